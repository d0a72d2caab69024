package governor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"omnimem/internal/envelope"
	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// ReflectionOptions bounds one reflection pass.
type ReflectionOptions struct {
	Days             int
	Limit            int // max reflection memories emitted per pass
	MinRepeats       int // min distinct sessions a tag must repeat across
	MaxAvgRetrieved  float64
	DryRun           bool
}

// ReflectionReport lists every reflection memory id created.
type ReflectionReport struct {
	Created []string
}

type tagGroup struct {
	tag        string
	members    []model.Memory
	sessionIDs map[string]struct{}
}

// Reflect finds tags that repeat across sessions with a low average
// reuse_count and creates one kind=summary memory per recurring pattern
// capturing it, per spec.md §4.7.
func Reflect(ctx context.Context, st *store.Store, projectID, workspace string, opts ReflectionOptions) (*ReflectionReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "reflection")
	defer timer.Stop()

	mems, lerr := st.Rel.ListScope(ctx, projectID, "", true, 2000)
	if lerr != nil {
		return nil, lerr
	}
	cutoff := model.UTCNow().AddDate(0, 0, -opts.Days)

	groups := map[string]*tagGroup{}
	for _, m := range mems {
		if m.UpdatedAt.Before(cutoff) {
			continue
		}
		for _, tag := range m.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			g, ok := groups[tag]
			if !ok {
				g = &tagGroup{tag: tag, sessionIDs: map[string]struct{}{}}
				groups[tag] = g
			}
			g.members = append(g.members, m)
			if m.Source.SessionID != "" {
				g.sessionIDs[m.Source.SessionID] = struct{}{}
			}
		}
	}

	var candidates []*tagGroup
	for _, g := range groups {
		if len(g.sessionIDs) < opts.MinRepeats {
			continue
		}
		if avgReuse(g.members) > opts.MaxAvgRetrieved {
			continue
		}
		candidates = append(candidates, g)
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i].sessionIDs) > len(candidates[j].sessionIDs) })
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	rep := &ReflectionReport{}
	for _, g := range candidates {
		if opts.DryRun {
			continue
		}
		var lines []string
		var refs []model.Reference
		for _, m := range g.members {
			lines = append(lines, "- "+strings.TrimSpace(m.Summary))
			refs = append(refs, model.Reference{Type: string(model.RefMemory), Target: m.ID})
		}
		env, werr := st.WriteMemory(ctx, envelope.Input{
			Layer:   model.LayerLong,
			Kind:    model.KindSummary,
			Summary: fmt.Sprintf("recurring pattern: %s (%d sessions)", g.tag, len(g.sessionIDs)),
			Body:    strings.Join(lines, "\n"),
			Refs:    refs,
			Source:  model.Source{Tool: "governor"},
			Scope:   model.Scope{ProjectID: projectID, Workspace: workspace},
		}, model.EventWrite)
		if werr != nil {
			return rep, werr
		}
		rep.Created = append(rep.Created, env.ID)
	}
	return rep, nil
}

func avgReuse(mems []model.Memory) float64 {
	if len(mems) == 0 {
		return 0
	}
	total := 0
	for _, m := range mems {
		total += m.Signals.ReuseCount
	}
	return float64(total) / float64(len(mems))
}
