package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fsnotify's watch goroutine is not goleak-clean on every platform (the
// reference codebase's own mangle_watcher_test.go skips goleak entirely for
// the same reason), so this test exercises ContentWatcher directly instead
// of under goleak.VerifyNone.
func TestContentWatcher_DetectsWritesUntilTaken(t *testing.T) {
	root := t.TempDir()
	markdownRoot := filepath.Join(root, "markdown")
	jsonlRoot := filepath.Join(root, "jsonl")
	require.Nil(t, os.MkdirAll(markdownRoot, 0o755))
	require.Nil(t, os.MkdirAll(jsonlRoot, 0o755))

	cw, err := NewContentWatcher(markdownRoot, jsonlRoot)
	require.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cw.Start(ctx)
	defer cw.Stop()

	assert.False(t, cw.TakeDirty())

	require.Nil(t, os.WriteFile(filepath.Join(markdownRoot, "note.md"), []byte("hi"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	var dirty bool
	for time.Now().Before(deadline) {
		if cw.TakeDirty() {
			dirty = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, dirty)
	assert.False(t, cw.TakeDirty())
}

// NewContentWatcher tolerates roots that do not exist yet.
func TestContentWatcher_MissingRootsAreSkipped(t *testing.T) {
	root := t.TempDir()
	cw, err := NewContentWatcher(filepath.Join(root, "missing-md"), filepath.Join(root, "missing-jsonl"))
	require.Nil(t, err)
	assert.False(t, cw.TakeDirty())
}
