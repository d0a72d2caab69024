// Package weaver derives weighted inter-memory edges from tag, session,
// temporal and lexical co-occurrence (spec.md §4.8), feeding the graph
// expansion step of retrieval and the consolidation pass of the governor.
package weaver

import (
	"context"
	"sort"
	"strings"
	"time"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/relstore"
)

// Options bounds one weave pass. Zero values fall back to spec.md §4.8's
// defaults.
type Options struct {
	MinWeight      float64
	MaxPerSrc      int
	MaxWait        time.Duration
	IncludeArchive bool
	// Weights sum to 1.0 conceptually but are not renormalized here; the
	// defaults below already do.
	WeightTags     float64
	WeightSession  float64
	WeightTemporal float64
	WeightLexical  float64
	// TemporalHorizon caps the proximity term: deltas beyond this are 0.
	TemporalHorizon time.Duration
}

// DefaultOptions returns the spec.md §4.8 defaults.
func DefaultOptions() Options {
	return Options{
		MinWeight:       0.18,
		MaxPerSrc:       6,
		MaxWait:         12 * time.Second,
		IncludeArchive:  false,
		WeightTags:      0.35,
		WeightSession:   0.2,
		WeightTemporal:  0.2,
		WeightLexical:   0.25,
		TemporalHorizon: 72 * time.Hour,
	}
}

// Report summarizes one weave pass.
type Report struct {
	Candidates   int
	EdgesWritten int
	TimedOut     bool
}

// candidate is the subset of a Memory the weaver needs.
type candidate struct {
	id        string
	tags      map[string]struct{}
	tokens    map[string]struct{}
	sessionID string
	createdAt time.Time
}

// Weave scores every in-scope pair of candidates and writes edges at or
// above opts.MinWeight, capped at opts.MaxPerSrc outgoing edges per
// source, favoring the highest-weight edges when the cap binds. If
// opts.MaxWait elapses first, the pass commits whatever it has scored so
// far and reports TimedOut so the caller can resume next cycle.
func Weave(ctx context.Context, rel *relstore.Store, candidates []model.Memory, opts Options) (*Report, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryWeaver, "weave")
	defer timer.Stop()

	if opts.MinWeight <= 0 {
		opts = DefaultOptions()
	}

	items := buildCandidates(candidates, opts)
	rep := &Report{Candidates: len(items)}
	deadline := time.Now().Add(opts.MaxWait)

	perSrc := map[string][]model.Edge{}

	for i, a := range items {
		if time.Now().After(deadline) {
			rep.TimedOut = true
			break
		}
		for j, b := range items {
			if i == j {
				continue
			}
			w, kind := score(a, b, opts)
			if w < opts.MinWeight {
				continue
			}
			perSrc[a.id] = append(perSrc[a.id], model.Edge{SrcID: a.id, DstID: b.id, Weight: w, Kind: kind})
		}
	}

	for _, edges := range perSrc {
		sort.Slice(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
		if len(edges) > opts.MaxPerSrc {
			edges = edges[:opts.MaxPerSrc]
		}
		for _, e := range edges {
			if err := rel.UpsertLink(ctx, e); err != nil {
				return rep, err
			}
			rep.EdgesWritten++
		}
	}

	return rep, nil
}

func buildCandidates(mems []model.Memory, opts Options) []candidate {
	out := make([]candidate, 0, len(mems))
	for _, m := range mems {
		if !opts.IncludeArchive && m.Layer == model.LayerArchive {
			continue
		}
		out = append(out, candidate{
			id:        m.ID,
			tags:      toSet(m.Tags),
			tokens:    toSet(tokenize(m.Summary)),
			sessionID: m.Source.SessionID,
			createdAt: m.CreatedAt,
		})
	}
	return out
}

// score combines the four affinity components into one weight and picks
// the dominant edge kind for display purposes: whichever component
// contributed the most to the final weight.
func score(a, b candidate, opts Options) (float64, model.EdgeKind) {
	tagJ := jaccard(a.tags, b.tags)
	session := 0.0
	if a.sessionID != "" && a.sessionID == b.sessionID {
		session = 1.0
	}
	temporal := temporalProximity(a.createdAt, b.createdAt, opts.TemporalHorizon)
	lexical := jaccard(a.tokens, b.tokens)

	weighted := map[model.EdgeKind]float64{
		model.EdgeTagCooc:  opts.WeightTags * tagJ,
		model.EdgeSession:  opts.WeightSession * session,
		model.EdgeTemporal: opts.WeightTemporal * temporal,
		model.EdgeLexical:  opts.WeightLexical * lexical,
	}
	total := 0.0
	dominant := model.EdgeTagCooc
	best := -1.0
	for kind, v := range weighted {
		total += v
		if v > best {
			best = v
			dominant = kind
		}
	}
	return total, dominant
}

func temporalProximity(a, b time.Time, horizon time.Duration) float64 {
	if a.IsZero() || b.IsZero() || horizon <= 0 {
		return 0
	}
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	if delta >= horizon {
		return 0
	}
	return 1 - float64(delta)/float64(horizon)
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

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}

// tokenize is a minimal local tokenizer kept independent of
// internal/retrieval to avoid a weaver->retrieval import; both split on
// non-alphanumeric runs and lowercase.
func tokenize(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}
