package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnimem/internal/config"
	"omnimem/internal/model"
	"omnimem/internal/relstore"
)

func openTestRel(t *testing.T) *relstore.Store {
	t.Helper()
	s, err := relstore.Open(filepath.Join(t.TempDir(), "t.db"))
	require.Nil(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeMem(t *testing.T, rel *relstore.Store, id, summary, body string, tags []string, importance float64, scope model.Scope) {
	t.Helper()
	env := model.Envelope{
		ID: id, SchemaVersion: model.SchemaVersion, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Layer: model.LayerShort, Kind: model.KindNote, Summary: summary, Tags: tags, Scope: scope,
		Signals: model.Signals{Importance: importance, Confidence: 0.5, Stability: 0.5},
	}
	require.Nil(t, rel.UpsertMemory(context.Background(), env, body))
}

func TestRetrieve_FindsLexicalMatch(t *testing.T) {
	rel := openTestRel(t)
	scope := model.Scope{ProjectID: "p1"}
	writeMem(t, rel, "m1", "fixed flaky retry jitter bug", "root cause was missing jitter bound", []string{"retry"}, 0.6, scope)
	writeMem(t, rel, "m2", "added dark mode toggle", "unrelated ui work", []string{"ui"}, 0.6, scope)

	eng := New(rel, config.Default("/tmp").Retrieval)
	res, err := eng.Retrieve(context.Background(), Query{Text: "retry jitter bug", ProjectID: "p1", Limit: 5})
	require.Nil(t, err)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "m1", res.Items[0].ID)
}

func TestRetrieve_GraphExpansionReachesLinkedMemory(t *testing.T) {
	rel := openTestRel(t)
	scope := model.Scope{ProjectID: "p1"}
	writeMem(t, rel, "seed", "investigated checkout latency spike", "traced to db pool exhaustion", []string{"perf"}, 0.6, scope)
	writeMem(t, rel, "linked", "increased db pool size", "bumped max connections to fix exhaustion", []string{"perf"}, 0.7, scope)
	require.Nil(t, rel.UpsertLink(context.Background(), model.Edge{SrcID: "seed", DstID: "linked", Weight: 0.5, Kind: model.EdgeTagCooc}))

	eng := New(rel, config.Default("/tmp").Retrieval)
	res, err := eng.Retrieve(context.Background(), Query{Text: "checkout latency spike", ProjectID: "p1", Limit: 5})
	require.Nil(t, err)

	var ids []string
	for _, it := range res.Items {
		ids = append(ids, it.ID)
	}
	assert.Contains(t, ids, "linked")
}

func TestClassifyRoute(t *testing.T) {
	assert.Equal(t, model.RouteProcedural, ClassifyRoute("how to restart the service"))
	assert.Equal(t, model.RouteEpisodic, ClassifyRoute("what did we decide last session"))
	assert.Equal(t, model.RouteSemantic, ClassifyRoute("what is a context window"))
	assert.Equal(t, model.RouteGeneral, ClassifyRoute("checkout flow review"))
}

func TestSelfCheck_ReportsMissingTokens(t *testing.T) {
	query := TokenSet("retry jitter backoff")
	items := []Item{{ID: "m1", Summary: "retry jitter fix"}}
	coverage, missing := selfCheck(query, items)
	assert.Less(t, coverage, 1.0)
	assert.Contains(t, missing, "backoff")
}

func TestMMRSelect_PrefersDiverseOverDuplicate(t *testing.T) {
	candidates := []Item{
		{ID: "a", Summary: "retry jitter backoff fix", Score: 0.9},
		{ID: "b", Summary: "retry jitter backoff fix", Score: 0.89},
		{ID: "c", Summary: "dark mode toggle added", Score: 0.5},
	}
	selected := mmrSelect(candidates, 2, 0.5)
	require.Len(t, selected, 2)
	ids := []string{selected[0].ID, selected[1].ID}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "c")
}

func TestTokenize_DropsStopwordsAndSplitsCJK(t *testing.T) {
	toks := Tokenize("the quick fox 中文 test")
	assert.NotContains(t, toks, "the")
	assert.Contains(t, toks, "quick")
	assert.Contains(t, toks, "中")
	assert.Contains(t, toks, "文")
}
