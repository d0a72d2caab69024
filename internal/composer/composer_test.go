package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/model"
)

func TestCompose_EmitsHeaderAndProtocol(t *testing.T) {
	out := Compose(Input{
		StateDir: t.TempDir(), StateKey: "s1", ProjectID: "proj1", Workspace: "ws",
		UserPrompt: "how to fix the flaky test", IncludeProtocol: true,
		BudgetTokens: 400, DeltaEnabled: true,
	})
	assert.Contains(t, out.Text, "OmniMem: proj1 (ws)")
	assert.Contains(t, out.Text, "Memory protocol (auto):")
	assert.Equal(t, model.RouteProcedural, out.Route)
}

func TestCompose_DeltaMarksNewThenSeen(t *testing.T) {
	dir := t.TempDir()
	cands := []Candidate{
		{ID: "m1", UpdatedAt: "2026-01-01T00:00:00Z", Layer: model.LayerShort, Kind: model.KindNote, Summary: "fixed retry bug"},
	}
	first := Compose(Input{
		StateDir: dir, StateKey: "s1", ProjectID: "p", Workspace: "w",
		Candidates: cands, BudgetTokens: 400, DeltaEnabled: true, MaxMemories: 8,
	})
	assert.Contains(t, first.Text, "/new]")
	assert.Equal(t, 1, first.DeltaNewCount)

	second := Compose(Input{
		StateDir: dir, StateKey: "s1", ProjectID: "p", Workspace: "w",
		Candidates: cands, BudgetTokens: 400, DeltaEnabled: true, MaxMemories: 8,
	})
	assert.Contains(t, second.Text, "/seen]")
	assert.Equal(t, 1, second.DeltaSeenCount)
}

func TestCompose_RespectsBudget(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 50; i++ {
		cands = append(cands, Candidate{
			ID: "m" + string(rune('a'+i%26)) + string(rune('0'+i/26)), UpdatedAt: "2026-01-01T00:00:00Z",
			Layer: model.LayerShort, Kind: model.KindNote, Summary: "a fairly long summary line to consume budget tokens",
		})
	}
	out := Compose(Input{
		StateDir: t.TempDir(), StateKey: "s1", ProjectID: "p", Workspace: "w",
		Candidates: cands, BudgetTokens: 160, DeltaEnabled: false, MaxMemories: 50,
	})
	assert.LessOrEqual(t, out.EstimatedTokens, 260) // budget + header slack, never unbounded
	assert.Less(t, out.SelectedCount, 50)
}

func TestCompose_TruncatesUserRequestWhenTight(t *testing.T) {
	longPrompt := ""
	for i := 0; i < 2000; i++ {
		longPrompt += "x"
	}
	out := Compose(Input{
		StateDir: t.TempDir(), StateKey: "s1", ProjectID: "p", Workspace: "w",
		UserPrompt: longPrompt, IncludeUserRequest: true, BudgetTokens: 120, DeltaEnabled: false,
	})
	require.Contains(t, out.Text, "User request:")
	assert.Less(t, len(out.Text), len(longPrompt)+200)
}
