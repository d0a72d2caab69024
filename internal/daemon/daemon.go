package daemon

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"omnimem/internal/config"
	"omnimem/internal/governor"
	"omnimem/internal/logging"
	"omnimem/internal/metrics"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/store"
	"omnimem/internal/weaver"
)

// Dependencies wires everything one daemon cycle needs.
type Dependencies struct {
	Store   *store.Store
	Paths   paths.Paths
	Git     GitRunner
	Metrics *metrics.Registry
	// Watcher, if set, supplements repoHasPendingChanges's git-status check
	// with a cheaper fsnotify-backed dirty signal collected since the
	// previous cycle. Optional: a nil Watcher falls back to the git check
	// alone, matching the reference daemon's pure-polling behavior.
	Watcher *ContentWatcher
}

// State tracks the daemon's cross-cycle bookkeeping. The reference
// implementation keeps this as local variables threaded through
// run_sync_daemon's while loop; here it is explicit caller-owned state so a
// single cycle stays a pure function of (Dependencies, Config, *State).
type State struct {
	LastPullAttempt time.Time
	LastPushAttempt time.Time
	LastSeen        time.Time
}

// RunCycle executes one full daemon cycle: pull (if due) -> reindex on a
// successful pull -> weave and maintenance concurrently -> push (if due),
// per spec.md §4.10, mirroring daemon.py's run_sync_daemon body.
func RunCycle(ctx context.Context, deps Dependencies, cfg *config.Config, st *State) *CycleReport {
	timer := logging.StartTimer(logging.CategoryDaemon, "cycle")
	defer timer.Stop()

	rep := &CycleReport{StartedAt: model.UTCNow()}
	remoteName := cfg.Sync.GitHub.RemoteName
	remoteURL := cfg.Sync.GitHub.RemoteURL
	branch := cfg.Sync.GitHub.Branch
	includeLayers := cfg.Sync.GitHub.IncludeLayers
	includeJSONL := cfg.Sync.GitHub.IncludeJSONL
	commitMsg := "chore(memory): sync snapshot"
	retryPolicy := RetryPolicy{
		MaxAttempts:    cfg.Daemon.RetryMaxAttempts,
		InitialBackoff: time.Duration(cfg.Daemon.RetryInitialBackoffS) * time.Second,
		MaxBackoff:     time.Duration(cfg.Daemon.RetryMaxBackoffS) * time.Second,
	}

	now := model.UTCNow()
	pullDue := st.LastPullAttempt.IsZero() || now.Sub(st.LastPullAttempt) >= time.Duration(cfg.Daemon.PullIntervalSeconds)*time.Second
	if pullDue {
		st.LastPullAttempt = now
		rep.Pull = RunSyncWithRetry(ctx, deps.Git, deps.Paths, SyncModePull, remoteName, remoteURL, branch, commitMsg, includeLayers, includeJSONL, retryPolicy)
		recordStep(deps.Metrics, "pull", rep.Pull.OK)
		if !rep.Pull.OK {
			rep.Errors = append(rep.Errors, "pull: "+rep.Pull.Hint)
		} else if reindexRep, rerr := deps.Store.Reindex(ctx, true); rerr != nil {
			rep.Errors = append(rep.Errors, "reindex: "+rerr.Message)
		} else {
			rep.Reindex = reindexRep
		}
	}

	currentSeen := latestContentMtime(deps.Paths.MarkdownRoot, deps.Paths.JSONLRoot)
	repoDirty := repoHasPendingChanges(ctx, deps.Git, deps.Paths.Root)
	if deps.Watcher != nil && deps.Watcher.TakeDirty() {
		repoDirty = true
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	if cfg.Daemon.WeaveEnabled {
		eg.Go(func() error {
			runWeave(egCtx, deps, cfg, rep, &mu)
			return nil
		})
	}

	if cfg.Daemon.MaintenanceEnabled {
		eg.Go(func() error {
			runMaintenance(egCtx, deps, cfg, rep, &mu)
			return nil
		})
	}

	_ = eg.Wait()

	rep.PushAttempt = shouldAttemptPush(cfg.Daemon.ScanIntervalSeconds, now, st.LastPushAttempt, currentSeen, st.LastSeen, repoDirty)
	if rep.PushAttempt {
		st.LastPushAttempt = now
		rep.Push = RunSyncWithRetry(ctx, deps.Git, deps.Paths, SyncModePush, remoteName, remoteURL, branch, commitMsg, includeLayers, includeJSONL, retryPolicy)
		recordStep(deps.Metrics, "push", rep.Push.OK)
		if !rep.Push.OK {
			rep.Errors = append(rep.Errors, "push: "+rep.Push.Hint)
		}
	}
	st.LastSeen = currentSeen

	rep.FinishedAt = model.UTCNow()
	if deps.Metrics != nil {
		deps.Metrics.RecordCycle(rep.Duration())
	}
	if deps.Store != nil {
		if logErr := deps.Store.LogSystemEvent(ctx, model.EventSync, map[string]any{
			"pull_attempted": rep.Pull.Attempted, "pull_ok": rep.Pull.OK,
			"push_attempted": rep.PushAttempt, "push_ok": rep.Push.OK,
			"weave_edges": weaveEdges(rep.Weave),
		}); logErr != nil {
			rep.Errors = append(rep.Errors, "log: "+logErr.Message)
		}
	}

	return rep
}

func runWeave(ctx context.Context, deps Dependencies, cfg *config.Config, rep *CycleReport, mu *sync.Mutex) {
	candidates, werr := deps.Store.Rel.ListForWeave(ctx, !cfg.Daemon.WeaveIncludeArchive, cfg.Daemon.WeaveLimit)
	if werr != nil {
		mu.Lock()
		rep.Errors = append(rep.Errors, "weave: "+werr.Message)
		mu.Unlock()
		recordStep(deps.Metrics, "weave", false)
		return
	}
	opts := weaver.DefaultOptions()
	opts.MinWeight = cfg.Daemon.WeaveMinWeight
	opts.MaxPerSrc = cfg.Daemon.WeaveMaxPerSrc
	opts.MaxWait = time.Duration(cfg.Daemon.WeaveMaxWaitSeconds * float64(time.Second))
	opts.IncludeArchive = cfg.Daemon.WeaveIncludeArchive

	report, werr2 := weaver.Weave(ctx, deps.Store.Rel, candidates, opts)
	mu.Lock()
	if werr2 != nil {
		rep.Errors = append(rep.Errors, "weave: "+werr2.Message)
	} else {
		rep.Weave = report
	}
	mu.Unlock()
	recordStep(deps.Metrics, "weave", werr2 == nil)
}

func runMaintenance(ctx context.Context, deps Dependencies, cfg *config.Config, rep *CycleReport, mu *sync.Mutex) {
	bias := governor.Bias{
		FeedbackPConfBoost: cfg.Daemon.FeedbackPConfBoost,
		FeedbackDVolRelief: cfg.Daemon.FeedbackDVolRelief,
		DriftDVolBoost:     cfg.Daemon.DriftDVolBoost,
		DriftPImpBoost:     cfg.Daemon.DriftPImpBoost,
	}
	report, merr := governor.RunMaintenance(ctx, deps.Store, cfg.Daemon, bias, 0, "", "", "")
	mu.Lock()
	if merr != nil {
		rep.Errors = append(rep.Errors, "maintenance: "+merr.Message)
	} else {
		rep.Maintenance = report
	}
	mu.Unlock()
	recordStep(deps.Metrics, "maintenance", merr == nil)
}

func recordStep(m *metrics.Registry, step string, ok bool) {
	if m != nil {
		m.RecordStep(step, ok)
	}
}

func weaveEdges(r *weaver.Report) int {
	if r == nil {
		return 0
	}
	return r.EdgesWritten
}
