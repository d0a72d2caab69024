package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/config"
	"omnimem/internal/envelope"
	"omnimem/internal/governor"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/retrieval"
	"omnimem/internal/store"
)

func openTestDeps(t *testing.T) Dependencies {
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
	eng := retrieval.New(s.Rel, cfg.Retrieval)
	limiter := governor.NewReuseLimiter(50, time.Hour)

	return Dependencies{Store: s, Retrieval: eng, ReuseLimiter: limiter, Paths: p}
}

func fakeExecutor(stdout string, err error) Executor {
	return func(ctx context.Context, cmd []string, cwd string) (*ToolResult, error) {
		return &ToolResult{Stdout: stdout}, err
	}
}

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	v := map[string]float64{"alpha": 2, "beta": 1}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_EmptyVectorIsOrthogonal(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(map[string]float64{}, map[string]float64{"a": 1}))
	assert.Equal(t, 0.0, CosineSimilarity(map[string]float64{"a": 1}, nil))
}

func TestMergeTopic_DecaysOldAndFoldsInFresh(t *testing.T) {
	old := map[string]float64{"retry": 1.0, "stale": 0.002}
	fresh := map[string]float64{"retry": 1.0, "jitter": 1.0}
	merged := MergeTopic(old, fresh, 0.25, 0.001)

	assert.InDelta(t, 0.75+0.25, merged["retry"], 1e-9)
	assert.InDelta(t, 0.25, merged["jitter"], 1e-9)
	if _, ok := merged["stale"]; ok {
		assert.Less(t, merged["stale"], 0.002)
	}
}

func TestMergeTopic_PrunesBelowThreshold(t *testing.T) {
	old := map[string]float64{"fading": 0.001}
	merged := MergeTopic(old, map[string]float64{}, 0.5, 0.001)
	_, ok := merged["fading"]
	assert.False(t, ok)
}

func TestChooseLayer_DefaultsToShortBaseline(t *testing.T) {
	layer, importance, confidence, stability := ChooseLayer("what does this function do", "it parses input", 0.1)
	assert.Equal(t, model.LayerShort, layer)
	assert.Equal(t, 0.55, importance)
	assert.Equal(t, 0.6, confidence)
	assert.Equal(t, 0.55, stability)
}

func TestChooseLayer_DecisionLanguagePromotesToLong(t *testing.T) {
	layer, importance, confidence, stability := ChooseLayer("we need a rule here", "the final decision is X", 0.1)
	assert.Equal(t, model.LayerLong, layer)
	assert.Equal(t, 0.8, importance)
	assert.Equal(t, 0.75, confidence)
	assert.Equal(t, 0.7, stability)
}

func TestChooseLayer_HighDriftForcesShortAndCapsStability(t *testing.T) {
	layer, _, _, stability := ChooseLayer("this must be a rule", "final decision made", 0.9)
	assert.Equal(t, model.LayerShort, layer)
	assert.LessOrEqual(t, stability, 0.5)
}

func TestToolCommand_KnownToolsUseFixedTemplate(t *testing.T) {
	cmd, err := ToolCommand("codex", "hello world")
	require.Nil(t, err)
	assert.Equal(t, []string{"codex", "exec", "hello world"}, cmd)

	cmd, err = ToolCommand("claude", "hello")
	require.Nil(t, err)
	assert.Equal(t, []string{"claude", "-p", "hello"}, cmd)
}

func TestToolCommand_EnvOverrideTakesPrecedence(t *testing.T) {
	t.Setenv("OMNIMEM_AGENT_CODEX_CMD", "my-wrapper --flag")
	cmd, err := ToolCommand("codex", "do the thing")
	require.Nil(t, err)
	assert.Equal(t, []string{"my-wrapper", "--flag", "do the thing"}, cmd)
}

func TestToolCommand_UnknownToolErrors(t *testing.T) {
	_, err := ToolCommand("unknown-tool", "x")
	require.NotNil(t, err)
}

func TestWithToolRetry_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	res, err := WithToolRetry(context.Background(), RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		func(ctx context.Context) (*ToolResult, error) {
			calls++
			return &ToolResult{Stdout: "ok"}, nil
		})
	require.Nil(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, 1, calls)
}

func TestWithToolRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	res, err := WithToolRetry(context.Background(), RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		func(ctx context.Context) (*ToolResult, error) {
			calls++
			if calls < 2 {
				return nil, errLike("rate limit exceeded, please try again")
			}
			return &ToolResult{Stdout: "ok"}, nil
		})
	require.Nil(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Equal(t, 2, calls)
}

func TestWithToolRetry_FailsFastOnPermanentError(t *testing.T) {
	calls := 0
	_, err := WithToolRetry(context.Background(), RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		func(ctx context.Context) (*ToolResult, error) {
			calls++
			return nil, errLike("permission denied")
		})
	require.NotNil(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunTurn_WritesRetrieveAndOutcomeMemories(t *testing.T) {
	deps := openTestDeps(t)
	deps.Exec = fakeExecutor("here is the answer", nil)
	ctx := context.Background()

	_, werr := deps.Store.WriteMemory(ctx, envelope.Input{
		Layer: model.LayerLong, Kind: model.KindDecision,
		Summary: "retry helper must use jittered backoff",
		Body:    "the rule is: always jitter backoff to avoid thundering herd",
		Tags:    []string{"project:proj1"},
		Scope:   model.Scope{ProjectID: "proj1"},
	}, model.EventWrite)
	require.Nil(t, werr)

	cfg := config.Default(t.TempDir()).Agent
	out, terr := RunTurn(ctx, deps, cfg, TurnInput{
		Tool: "codex", ProjectID: "proj1", Workspace: "/tmp/ws", Cwd: "/tmp",
		UserPrompt: "how should the retry backoff be jittered?",
	})
	require.Nil(t, terr)
	assert.True(t, out.OK)
	assert.Equal(t, "here is the answer", out.Answer)
	assert.NotEmpty(t, out.OutcomeMemoryID)

	logRes, lerr := deps.Store.Log.ReadAll()
	require.NoError(t, lerr)
	var sawRetrieve, sawWrite bool
	for _, ev := range logRes.Events {
		switch ev.EventType {
		case model.EventRetrieve:
			sawRetrieve = true
		case model.EventWrite:
			sawWrite = true
		}
	}
	assert.True(t, sawRetrieve)
	assert.True(t, sawWrite)
}

func TestRunTurn_HighDriftAfterTopicSwitchRotatesSession(t *testing.T) {
	deps := openTestDeps(t)
	deps.Exec = fakeExecutor("ack", nil)
	ctx := context.Background()
	cfg := config.Default(t.TempDir()).Agent
	cfg.DriftThreshold = 0.1

	first, terr := RunTurn(ctx, deps, cfg, TurnInput{
		Tool: "codex", ProjectID: "proj1", Workspace: "/tmp/ws", Cwd: "/tmp",
		UserPrompt: "tell me about database indexing strategies",
	})
	require.Nil(t, terr)

	second, terr := RunTurn(ctx, deps, cfg, TurnInput{
		Tool: "codex", ProjectID: "proj1", Workspace: "/tmp/ws", Cwd: "/tmp",
		UserPrompt: "tell me about database indexing strategies",
	})
	require.Nil(t, terr)
	assert.Equal(t, first.SessionID, second.SessionID)

	third, terr := RunTurn(ctx, deps, cfg, TurnInput{
		Tool: "codex", ProjectID: "proj1", Workspace: "/tmp/ws", Cwd: "/tmp",
		UserPrompt: "completely unrelated topic about orchestral music composition",
	})
	require.Nil(t, terr)
	if third.Switched {
		assert.NotEqual(t, second.SessionID, third.SessionID)
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }

func errLike(msg string) error { return &simpleError{msg: msg} }
