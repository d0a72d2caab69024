package daemon

import (
	"context"
	"sync"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
)

// Scheduler drives RunCycle on cfg.Daemon.ScanIntervalSeconds, grounded on
// the start/stop/ticker pattern of the reference store's reflection
// worker: a stop channel the caller closes and a done channel Stop waits
// on so shutdown is synchronous.
type Scheduler struct {
	deps Dependencies
	cfg  *config.Config

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	// OnCycle, if set, is called after every completed cycle. Tests use
	// this to observe CycleReports without racing the scheduler's own
	// internal state.
	OnCycle func(*CycleReport)
}

// NewScheduler builds a Scheduler over deps and cfg. deps.Watcher is left as
// the caller set it: production callers construct a ContentWatcher over the
// resolved storage roots and set it on Dependencies before calling
// NewScheduler; a nil Watcher falls back to repoHasPendingChanges's
// `git status` check alone (this is what the fsnotify-free test suite uses,
// matching the reference codebase's own documented fsnotify/goleak
// incompatibility on some platforms).
func NewScheduler(deps Dependencies, cfg *config.Config) *Scheduler {
	return &Scheduler{deps: deps, cfg: cfg}
}

// Start begins the scan loop, and the content watcher alongside it, in
// goroutines. Non-blocking; calling Start on an already-running Scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	if s.deps.Watcher != nil {
		s.deps.Watcher.Start(ctx)
	}
	go s.run(ctx, stop, done)
}

// Stop signals the scan loop and the content watcher to exit and waits for
// both to finish. Safe to call on a Scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stop)
	<-done
	if s.deps.Watcher != nil {
		s.deps.Watcher.Stop()
	}
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Duration(s.cfg.Daemon.ScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 8 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	rep := RunCycle(ctx, s.deps, s.cfg, &st)

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	if len(rep.Errors) > 0 {
		logging.Get(logging.CategoryDaemon).Warn("cycle completed with %d error(s): %v", len(rep.Errors), rep.Errors)
	}
	if s.OnCycle != nil {
		s.OnCycle(rep)
	}
}
