// Package retrieval implements the hybrid retrieval pipeline (spec.md
// §4.5): FTS5 lexical seed, graph BFS expansion, multi-component ranking
// with a relevance gate, optional profile/drift biasing, MMR
// diversification, core-block injection, and a self-check pass.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/relstore"
)

// Query is the retrieval request.
type Query struct {
	Text        string
	ProjectID   string
	SessionID   string
	Limit       int
	ProfileTags []string // top tags from the caller's long-run profile, used by profile biasing
	DriftScore  float64  // recent-vs-baseline tag drift, used by drift biasing
}

// Item is one ranked retrieval result.
type Item struct {
	ID            string
	Summary       string
	Score         float64
	LexicalOverlap float64
	FTSScore      float64
	Cognitive     float64
	Recency       float64
	GraphAffinity float64
	WhyRecalled   []string
	HopDistance   int
}

// Result is the full retrieval response: ranked items plus the
// self-check diagnostics from spec.md §4.5 step 8.
type Result struct {
	Items         []Item
	Route         model.Route
	Coverage      float64
	MissingTokens []string
}

// Engine runs retrieve() against one relational store.
type Engine struct {
	rel *relstore.Store
	cfg config.RetrievalConfig
}

// New returns an Engine backed by rel, configured by cfg.
func New(rel *relstore.Store, cfg config.RetrievalConfig) *Engine {
	return &Engine{rel: rel, cfg: cfg}
}

// Retrieve runs the full pipeline for q.
func (e *Engine) Retrieve(ctx context.Context, q Query) (*Result, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "retrieve")
	defer timer.Stop()

	limit := q.Limit
	if limit <= 0 {
		limit = 8
	}
	queryTokens := TokenSet(q.Text)
	route := ClassifyRoute(q.Text)

	seedIDs, serr := e.seed(ctx, q)
	if serr != nil {
		return nil, serr
	}

	hops := map[string]int{}
	for _, id := range seedIDs {
		hops[id] = 0
	}
	if eerr := e.expand(ctx, seedIDs, hops); eerr != nil {
		return nil, eerr
	}

	candidates := make([]string, 0, len(hops))
	for id := range hops {
		candidates = append(candidates, id)
	}

	scored := make([]Item, 0, len(candidates))
	now := time.Now().UTC()
	for _, id := range candidates {
		m, gerr := e.rel.GetMemory(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if m == nil || m.ID == model.SystemMemoryID || m.Kind == model.KindRetrieve {
			continue
		}
		item := e.scoreCandidate(*m, queryTokens, hops[id], now, q)
		if item.Score < e.cfg.RelevanceFloor && item.LexicalOverlap == 0 && item.GraphAffinity == 0 {
			continue
		}
		scored = append(scored, item)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected := mmrSelect(scored, limit, e.effectiveMMRLambda(q))

	if e.cfg.CoreBlockEnabled {
		blocks, berr := e.rel.CoreBlocksForScope(ctx, q.ProjectID, q.SessionID, e.cfg.CoreBlockLimit)
		if berr != nil {
			return nil, berr
		}
		prefix := make([]Item, 0, len(blocks))
		for _, b := range blocks {
			prefix = append(prefix, Item{
				ID:          b.ProjectID + ":" + b.Name,
				Summary:     strings.Join(b.Lines, " "),
				Score:       1.0,
				WhyRecalled: []string{"core-block:" + b.Name},
			})
		}
		selected = append(prefix, selected...)
	}

	res := &Result{Items: selected, Route: route}
	if e.cfg.SelfCheckEnabled {
		res.Coverage, res.MissingTokens = selfCheck(queryTokens, selected)
	}
	return res, nil
}

func (e *Engine) effectiveMMRLambda(q Query) float64 {
	lambda := e.cfg.MMRLambda
	if e.cfg.DriftBiasEnabled && q.DriftScore > e.cfg.DriftThreshold {
		lambda *= 0.7 // broader, less diverse under drift
	}
	if lambda <= 0 {
		lambda = 0.7
	}
	return lambda
}

func (e *Engine) seed(ctx context.Context, q Query) ([]string, *errs.Error) {
	floor := e.cfg.FTSFloor
	if floor <= 0 {
		floor = 5
	}
	hits, err := e.rel.SearchFTS(ctx, q.Text, q.ProjectID, q.SessionID, floor*4)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	if len(ids) >= floor {
		return ids, nil
	}

	for _, tok := range Tokenize(q.Text) {
		fallback, ferr := e.rel.SubstringScan(ctx, tok, q.ProjectID, floor)
		if ferr != nil {
			return nil, ferr
		}
		ids = append(ids, fallback...)
		if len(ids) >= floor {
			break
		}
	}
	return dedupe(ids), nil
}

func (e *Engine) expand(ctx context.Context, seeds []string, hops map[string]int) *errs.Error {
	depth := e.cfg.Depth
	if depth <= 0 {
		depth = 2
	}
	perHop := e.cfg.PerHopCap
	if perHop <= 0 {
		perHop = 6
	}
	minWeight := e.cfg.MinWeight
	if minWeight <= 0 {
		minWeight = 0.18
	}

	frontier := append([]string{}, seeds...)
	visited := map[string]bool{}
	for _, s := range seeds {
		visited[s] = true
	}

	for d := 1; d <= depth; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := e.rel.LinksFrom(ctx, id, minWeight)
			if err != nil {
				return err
			}
			sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
			count := 0
			for _, edge := range edges {
				if count >= perHop {
					break
				}
				if visited[edge.DstID] {
					continue
				}
				visited[edge.DstID] = true
				hops[edge.DstID] = d
				next = append(next, edge.DstID)
				count++
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return nil
}

func (e *Engine) scoreCandidate(m model.Memory, queryTokens map[string]struct{}, hop int, now time.Time, q Query) Item {
	bodyTokens := TokenSet(m.Summary + " " + m.BodyText)
	overlap := overlapFraction(queryTokens, bodyTokens)

	cognitive := e.cfg.WeightImportance*m.Signals.Importance +
		e.cfg.WeightConfidence*m.Signals.Confidence +
		e.cfg.WeightStability*m.Signals.Stability +
		e.cfg.WeightReuse*math.Log1p(float64(m.Signals.ReuseCount)) -
		e.cfg.WeightVolatility*m.Signals.Volatility

	ageDays := now.Sub(m.UpdatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ageDays / 30.0)

	graphAffinity := 0.0
	if hop == 0 {
		graphAffinity = 1.0
	} else if hop > 0 {
		graphAffinity = 1.0 / float64(hop+1)
	}

	score := overlap + cognitive + recency + graphAffinity
	if e.cfg.ProfileBiasEnabled && len(q.ProfileTags) > 0 {
		score += e.cfg.ProfileWeight * tagSimilarity(m.Tags, q.ProfileTags)
	}

	why := []string{}
	if overlap > 0 {
		why = append(why, "lexical-match")
	}
	if hop > 0 {
		why = append(why, "graph-expansion")
	}
	if len(why) == 0 {
		why = append(why, "cognitive-signal")
	}

	return Item{
		ID: m.ID, Summary: m.Summary, Score: score,
		LexicalOverlap: overlap, Cognitive: cognitive, Recency: recency, GraphAffinity: graphAffinity,
		WhyRecalled: why, HopDistance: hop,
	}
}

func overlapFraction(query, body map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hit := 0
	for t := range query {
		if _, ok := body[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

func tagSimilarity(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(setA)+len(setB)-inter)
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}

// mmrSelect runs λ-weighted maximal marginal relevance over summary+tag
// Jaccard dissimilarity (spec.md §4.5 step 6).
func mmrSelect(candidates []Item, limit int, lambda float64) []Item {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	remaining := append([]Item{}, candidates...)
	var selected []Item
	for len(selected) < limit && len(remaining) > 0 {
		bestIdx, bestScore := 0, math.Inf(-1)
		for i, c := range remaining {
			dissim := 1.0
			for _, s := range selected {
				sim := jaccard(TokenSet(c.Summary), TokenSet(s.Summary))
				if 1-sim < dissim {
					dissim = 1 - sim
				}
			}
			mmr := lambda*c.Score + (1-lambda)*dissim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func selfCheck(queryTokens map[string]struct{}, selected []Item) (float64, []string) {
	if len(queryTokens) == 0 {
		return 1.0, nil
	}
	union := map[string]struct{}{}
	for _, it := range selected {
		for t := range TokenSet(it.Summary) {
			union[t] = struct{}{}
		}
	}
	hit := 0
	var missing []string
	for t := range queryTokens {
		if _, ok := union[t]; ok {
			hit++
		} else {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)
	return float64(hit) / float64(len(queryTokens)), missing
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var (
	procRe = regexp.MustCompile(`(?i)\b(how to|steps?|command|cli|usage|run|install)\b`)
	epiRe  = regexp.MustCompile(`(?i)\b(yesterday|last (time|session|week)|earlier|previously|when (did|we))\b`)
	semRe  = regexp.MustCompile(`(?i)\b(what is|define|explain|concept|meaning)\b`)
)

// ClassifyRoute tags a query's intent: procedural | episodic | semantic |
// general, by regex over the text (spec.md §4.5).
func ClassifyRoute(q string) model.Route {
	switch {
	case procRe.MatchString(q):
		return model.RouteProcedural
	case epiRe.MatchString(q):
		return model.RouteEpisodic
	case semRe.MatchString(q):
		return model.RouteSemantic
	default:
		return model.RouteGeneral
	}
}
