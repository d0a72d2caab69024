package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"omnimem/internal/config"
	"omnimem/internal/envelope"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/store"
)

// fakeGit records every invocation and answers just enough to exercise
// RunCycle's pull/push paths without touching a real repository.
type fakeGit struct {
	calls [][]string
}

func (g *fakeGit) run(ctx context.Context, root string, args ...string) (string, string, error) {
	g.calls = append(g.calls, append([]string{}, args...))
	if len(args) > 0 && args[0] == "status" {
		return "", "", nil
	}
	if len(args) > 0 && args[0] == "remote" {
		return "", "", nil
	}
	return "", "", nil
}

func openTestDeps(t *testing.T) (Dependencies, *config.Config) {
	t.Helper()
	root := t.TempDir()
	p := paths.Paths{
		Root:         root,
		MarkdownRoot: filepath.Join(root, "markdown"),
		JSONLRoot:    filepath.Join(root, "jsonl"),
		SQLitePath:   filepath.Join(root, "omnimem.db"),
		RuntimeRoot:  filepath.Join(root, "runtime"),
	}
	s, err := store.Open(p)
	require.Nil(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Default(root)
	git := &fakeGit{}
	return Dependencies{Store: s, Paths: p, Git: git.run}, cfg
}

func TestRunCycle_PullReindexWeaveMaintenanceAndPush(t *testing.T) {
	deps, cfg := openTestDeps(t)
	ctx := context.Background()

	_, werr := deps.Store.WriteMemory(ctx, envelope.Input{
		Layer: model.LayerLong, Kind: model.KindDecision,
		Summary: "always jitter retry backoff", Body: "the rule is: jitter backoff on retry",
		Tags: []string{"project:proj1", "topic:retry"}, Scope: model.Scope{ProjectID: "proj1"},
	}, model.EventWrite)
	require.Nil(t, werr)

	st := &State{}
	rep := RunCycle(ctx, deps, cfg, st)

	assert.True(t, rep.Pull.Attempted)
	assert.True(t, rep.Pull.OK)
	require.NotNil(t, rep.Reindex)
	assert.GreaterOrEqual(t, rep.Reindex.MemoriesIndexed, 1)
	require.NotNil(t, rep.Weave)
	require.NotNil(t, rep.Maintenance)
	assert.Empty(t, rep.Errors)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
}

func TestShouldAttemptPush_RespectsIntervalAndDirtyState(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	older := now.Add(-time.Hour)

	assert.True(t, shouldAttemptPush(8, now, time.Time{}, now, older, false))
	assert.False(t, shouldAttemptPush(8, now, now.Add(-1*time.Second), now, older, false))
	assert.True(t, shouldAttemptPush(8, now, now.Add(-time.Minute), older, older, true))
	assert.False(t, shouldAttemptPush(8, now, now.Add(-time.Minute), older, older, false))
}

func TestScheduler_StartStopLeavesNoGoroutinesRunning(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)

	deps, cfg := openTestDeps(t)
	cfg.Daemon.ScanIntervalSeconds = 1
	sched := NewScheduler(deps, cfg)

	cycles := 0
	sched.OnCycle = func(*CycleReport) { cycles++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	sched.Stop()

	assert.GreaterOrEqual(t, cycles, 1)
}

func TestCycleReport_DiffDetectsChangedFields(t *testing.T) {
	a := CycleReport{Pull: RunResult{Attempted: true, OK: true}}
	b := CycleReport{Pull: RunResult{Attempted: true, OK: false, ErrorKind: "network"}}

	diff := cmp.Diff(a, b)
	assert.NotEmpty(t, diff)

	c := a
	assert.Empty(t, cmp.Diff(a, c))
}
