package daemon

import (
	"context"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"omnimem/internal/logging"
)

// ContentWatcher watches the markdown and JSONL storage roots and tracks
// whether either has seen a write since the last time Dirty was consulted,
// so the daemon can decide a push is worth attempting without shelling out
// to `git status` on every scan tick.
type ContentWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirty   bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewContentWatcher builds a watcher over markdownRoot and jsonlRoot. Either
// root may not exist yet; a missing root is skipped, not an error.
func NewContentWatcher(markdownRoot, jsonlRoot string) (*ContentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &ContentWatcher{watcher: w, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	for _, root := range []string{markdownRoot, jsonlRoot} {
		if _, serr := os.Stat(root); serr != nil {
			continue
		}
		if aerr := w.Add(root); aerr != nil {
			logging.Get(logging.CategoryDaemon).Warn("content watcher: failed to watch %s: %v", root, aerr)
		}
	}
	return cw, nil
}

// Start begins the watch loop in a goroutine. Non-blocking.
func (cw *ContentWatcher) Start(ctx context.Context) {
	go cw.run(ctx)
}

// Stop halts the watch loop and closes the underlying fsnotify watcher.
func (cw *ContentWatcher) Stop() {
	close(cw.stopCh)
	<-cw.doneCh
	_ = cw.watcher.Close()
}

func (cw *ContentWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				cw.mu.Lock()
				cw.dirty = true
				cw.mu.Unlock()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryDaemon).Error("content watcher error: %v", err)
		}
	}
}

// TakeDirty reports whether content has changed since the last call and
// clears the flag.
func (cw *ContentWatcher) TakeDirty() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	d := cw.dirty
	cw.dirty = false
	return d
}
