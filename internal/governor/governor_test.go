package governor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/config"
	"omnimem/internal/envelope"
	"omnimem/internal/model"
	"omnimem/internal/paths"
	"omnimem/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
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
	return s
}

func writeTestMemory(t *testing.T, s *store.Store, projectID, sessionID, summary, body string, sig model.Signals, layer model.Layer) *model.Envelope {
	t.Helper()
	env, err := s.WriteMemory(context.Background(), envelope.Input{
		Layer:      layer,
		Kind:       model.KindNote,
		Summary:    summary,
		Body:       body,
		Tags:       []string{"retry", "backoff"},
		Source:     model.Source{Tool: "claude-code", SessionID: sessionID},
		Scope:      model.Scope{ProjectID: projectID},
		Importance: sig.Importance,
		Confidence: sig.Confidence,
		Stability:  sig.Stability,
		ReuseCount: sig.ReuseCount,
		Volatility: sig.Volatility,
	}, model.EventWrite)
	require.Nil(t, err)
	return env
}

// backdate moves a memory's updated_at (and created_at) into the past by
// writing directly through the relational view, bypassing the event log,
// so decay/rehearsal/reflection windows can be exercised deterministically.
func backdate(t *testing.T, s *store.Store, id string, age time.Duration) {
	t.Helper()
	mem, gerr := s.Rel.GetMemory(context.Background(), id)
	require.Nil(t, gerr)
	require.NotNil(t, mem)
	past := model.UTCNow().Add(-age)
	uerr := s.Rel.UpdateSignals(context.Background(), id, mem.Signals, past)
	require.Nil(t, uerr)
}

func TestApplyDecay_ReducesAgedHighSignalMemory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := writeTestMemory(t, s, "proj1", "s1", "note", "body text",
		model.Signals{Importance: 0.9, Confidence: 0.9, Stability: 0.9, Volatility: 0.5}, model.LayerShort)
	backdate(t, s, env.ID, 40*24*time.Hour)

	rep, derr := ApplyDecay(ctx, s, "proj1", DecayOptions{Days: 14, Limit: 100, HalfLifeDays: 21})
	require.Nil(t, derr)
	assert.Equal(t, 1, rep.Decayed)

	mem, gerr := s.Rel.GetMemory(ctx, env.ID)
	require.Nil(t, gerr)
	assert.Less(t, mem.Signals.Importance, 0.9)
	assert.Less(t, mem.Signals.Confidence, 0.9)
}

func TestApplyDecay_SkipsRecentMemory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := writeTestMemory(t, s, "proj1", "s1", "note", "body text",
		model.Signals{Importance: 0.9, Confidence: 0.9}, model.LayerShort)

	rep, derr := ApplyDecay(ctx, s, "proj1", DecayOptions{Days: 14, Limit: 100, HalfLifeDays: 21})
	require.Nil(t, derr)
	assert.Equal(t, 0, rep.Decayed)

	mem, gerr := s.Rel.GetMemory(ctx, env.ID)
	require.Nil(t, gerr)
	assert.Equal(t, 0.9, mem.Signals.Importance)
}

func TestConsolidateMemories_PromotesHotInstantAndDemotesVolatileLong(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hot := writeTestMemory(t, s, "proj1", "s1", "hot note", "body",
		model.Signals{Importance: 0.95, Confidence: 0.95, Stability: 0.9, Volatility: 0.05, ReuseCount: 5}, model.LayerInstant)
	cold := writeTestMemory(t, s, "proj1", "s1", "cold note", "body",
		model.Signals{Importance: 0.1, Confidence: 0.1, Stability: 0.05, Volatility: 0.95, ReuseCount: 0}, model.LayerLong)

	quantiles := AdaptiveQuantiles{
		PromoteImportance: 0.7, PromoteConfidence: 0.7, PromoteStability: 0.7, PromoteVolatility: 0.7,
		DemoteVolatility: 0.3, DemoteStability: 0.3, DemoteReuse: 0.3,
	}
	rep, cerr := ConsolidateMemories(ctx, s, "proj1", "s1", ConsolidateOptions{
		Limit: 100, Quantiles: quantiles, PromoteReuse: 1,
	})
	require.Nil(t, cerr)
	assert.Contains(t, rep.Promoted, hot.ID)
	assert.Contains(t, rep.Demoted, cold.ID)

	hotAfter, gerr := s.Rel.GetMemory(ctx, hot.ID)
	require.Nil(t, gerr)
	assert.Equal(t, model.LayerShort, hotAfter.Layer)

	coldAfter, gerr := s.Rel.GetMemory(ctx, cold.ID)
	require.Nil(t, gerr)
	assert.Equal(t, model.LayerShort, coldAfter.Layer)
}

func TestConsolidateMemories_DryRunLeavesLayersUntouched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hot := writeTestMemory(t, s, "proj1", "s1", "hot note", "body",
		model.Signals{Importance: 0.95, Confidence: 0.95, Stability: 0.9, Volatility: 0.05, ReuseCount: 5}, model.LayerInstant)

	quantiles := AdaptiveQuantiles{PromoteImportance: 0.1, PromoteConfidence: 0.1, PromoteStability: 0.1, PromoteVolatility: 0.9}
	rep, cerr := ConsolidateMemories(ctx, s, "proj1", "s1", ConsolidateOptions{
		Limit: 100, Quantiles: quantiles, PromoteReuse: 1, DryRun: true,
	})
	require.Nil(t, cerr)
	assert.Contains(t, rep.Promoted, hot.ID)

	after, gerr := s.Rel.GetMemory(ctx, hot.ID)
	require.Nil(t, gerr)
	assert.Equal(t, model.LayerInstant, after.Layer)
}

func TestCompressSession_NotApplicableBelowMinItems(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	writeTestMemory(t, s, "proj1", "s1", "note one", "body", model.Signals{}, model.LayerShort)

	rep, cerr := CompressSession(ctx, s, "proj1", "s1", "ws", CompressOptions{MinItems: 3})
	require.Nil(t, cerr)
	assert.False(t, rep.Applicable)
	assert.Empty(t, rep.SummaryID)
}

func TestCompressSession_CreatesSummaryOnceThresholdMet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		writeTestMemory(t, s, "proj1", "s1", "note", "body", model.Signals{}, model.LayerShort)
	}

	rep, cerr := CompressSession(ctx, s, "proj1", "s1", "ws", CompressOptions{MinItems: 3})
	require.Nil(t, cerr)
	assert.True(t, rep.Applicable)
	require.NotEmpty(t, rep.SummaryID)

	summary, gerr := s.Rel.GetMemory(ctx, rep.SummaryID)
	require.Nil(t, gerr)
	assert.Equal(t, model.KindSummary, summary.Kind)
}

func TestApplyFeedback_PositiveReinforcesSignals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env := writeTestMemory(t, s, "proj1", "s1", "note", "body",
		model.Signals{Importance: 0.5, Confidence: 0.5}, model.LayerShort)

	updated, ferr := ApplyFeedback(ctx, s, env.ID, model.FeedbackPositive, "useful")
	require.Nil(t, ferr)
	assert.Greater(t, updated.Signals.Importance, 0.5)
	assert.Greater(t, updated.Signals.Confidence, 0.5)
	assert.Equal(t, 1, updated.Signals.ReuseCount)
}

func TestApplyFeedback_ForgetArchivesMemory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env := writeTestMemory(t, s, "proj1", "s1", "note", "body", model.Signals{Importance: 0.8}, model.LayerShort)

	updated, ferr := ApplyFeedback(ctx, s, env.ID, model.FeedbackForget, "no longer valid")
	require.Nil(t, ferr)
	assert.Equal(t, model.LayerArchive, updated.Layer)
}

func TestApplyFeedback_RejectsUnknownKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env := writeTestMemory(t, s, "proj1", "s1", "note", "body", model.Signals{}, model.LayerShort)

	_, ferr := ApplyFeedback(ctx, s, env.ID, model.FeedbackKind("bogus"), "x")
	require.NotNil(t, ferr)
}

func TestReuseLimiter_CapsBumpsPerPeriod(t *testing.T) {
	limiter := NewReuseLimiter(2, time.Hour)
	now := time.Now()

	assert.True(t, limiter.Allow("m1", now))
	assert.True(t, limiter.Allow("m1", now.Add(time.Minute)))
	assert.False(t, limiter.Allow("m1", now.Add(2*time.Minute)))

	assert.True(t, limiter.Allow("m2", now))
}

func TestReuseLimiter_WindowExpires(t *testing.T) {
	limiter := NewReuseLimiter(1, time.Minute)
	now := time.Now()

	assert.True(t, limiter.Allow("m1", now))
	assert.False(t, limiter.Allow("m1", now.Add(30*time.Second)))
	assert.True(t, limiter.Allow("m1", now.Add(2*time.Minute)))
}

func TestBumpReuseFromRetrieval_SuppressedByLimiter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env := writeTestMemory(t, s, "proj1", "s1", "note", "body", model.Signals{}, model.LayerShort)

	limiter := NewReuseLimiter(1, time.Hour)
	ok, berr := BumpReuseFromRetrieval(ctx, s, limiter, env.ID, 1)
	require.Nil(t, berr)
	assert.True(t, ok)

	ok2, berr2 := BumpReuseFromRetrieval(ctx, s, limiter, env.ID, 1)
	require.Nil(t, berr2)
	assert.False(t, ok2)

	mem, gerr := s.Rel.GetMemory(ctx, env.ID)
	require.Nil(t, gerr)
	assert.Equal(t, 1, mem.Signals.ReuseCount)
}

func TestPrune_ArchivesEligibleRowsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := writeTestMemory(t, s, "proj1", "s1", "stale note", "body", model.Signals{}, model.LayerShort)
	backdate(t, s, old.ID, 60*24*time.Hour)
	kept := writeTestMemory(t, s, "proj1", "s1", "decision note", "body", model.Signals{}, model.LayerShort)
	backdate(t, s, kept.ID, 60*24*time.Hour)

	rep, perr := Prune(ctx, s, "proj1", PruneOptions{
		Days: 30, Limit: 100, Layers: []model.Layer{model.LayerShort}, KeepKinds: []model.Kind{model.KindDecision},
	})
	require.Nil(t, perr)
	assert.Contains(t, rep.Archived, old.ID)
	assert.NotContains(t, rep.Archived, kept.ID)

	oldAfter, gerr := s.Rel.GetMemory(ctx, old.ID)
	require.Nil(t, gerr)
	assert.Equal(t, model.LayerArchive, oldAfter.Layer)
}

func TestRehearse_BumpsLowReuseHighImportanceMemories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	important := writeTestMemory(t, s, "proj1", "s1", "important note", "body",
		model.Signals{Importance: 0.9, ReuseCount: 0}, model.LayerShort)
	alreadyUsed := writeTestMemory(t, s, "proj1", "s1", "used note", "body",
		model.Signals{Importance: 0.3, ReuseCount: 10}, model.LayerShort)

	rep, rerr := Rehearse(ctx, s, "proj1", RehearsalOptions{Days: 30, Limit: 5, ReuseStep: 1})
	require.Nil(t, rerr)
	assert.Contains(t, rep.Rehearsed, important.ID)
	assert.NotContains(t, rep.Rehearsed, alreadyUsed.ID)

	after, gerr := s.Rel.GetMemory(ctx, important.ID)
	require.Nil(t, gerr)
	assert.Equal(t, 1, after.Signals.ReuseCount)
}

func TestReflect_EmitsSummaryForTagRepeatedAcrossSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	writeTestMemory(t, s, "proj1", "s1", "retry helper note", "body", model.Signals{ReuseCount: 0}, model.LayerShort)
	writeTestMemory(t, s, "proj1", "s2", "retry helper again", "body", model.Signals{ReuseCount: 0}, model.LayerShort)
	writeTestMemory(t, s, "proj1", "s3", "retry helper once more", "body", model.Signals{ReuseCount: 0}, model.LayerShort)

	rep, rferr := Reflect(ctx, s, "proj1", "ws", ReflectionOptions{
		Days: 30, Limit: 5, MinRepeats: 3, MaxAvgRetrieved: 1,
	})
	require.Nil(t, rferr)
	require.Len(t, rep.Created, 1)

	created, gerr := s.Rel.GetMemory(ctx, rep.Created[0])
	require.Nil(t, gerr)
	assert.Equal(t, model.KindSummary, created.Kind)
}

func TestBias_Apply_AdjustsQuantilesUnderPressure(t *testing.T) {
	b := Bias{FeedbackPConfBoost: 0.05, FeedbackDVolRelief: 0.05, DriftDVolBoost: 0.08, DriftPImpBoost: 0.05}
	base := AdaptiveQuantiles{PromoteConfidence: 0.5, DemoteVolatility: 0.5, PromoteImportance: 0.5}

	withFeedback := b.Apply(base, true, 0, 0.55)
	assert.InDelta(t, 0.55, withFeedback.PromoteConfidence, 1e-9)
	assert.InDelta(t, 0.55, withFeedback.DemoteVolatility, 1e-9)

	withDrift := b.Apply(base, false, 0.8, 0.55)
	assert.InDelta(t, 0.42, withDrift.DemoteVolatility, 1e-9)
	assert.InDelta(t, 0.55, withDrift.PromoteImportance, 1e-9)
}

func TestRunMaintenance_SmokeTestAllEnabledPasses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		writeTestMemory(t, s, "proj1", "s1", "note", "body", model.Signals{Importance: 0.5}, model.LayerShort)
	}

	cfg := config.Default(t.TempDir()).Daemon
	rep, merr := RunMaintenance(ctx, s, cfg, Bias{}, 0, "proj1", "s1", "ws")
	require.Nil(t, merr)
	require.NotNil(t, rep.Decay)
	require.NotNil(t, rep.Consolidate)
	require.NotNil(t, rep.Compress)
}
