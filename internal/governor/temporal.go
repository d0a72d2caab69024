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

// TemporalOptions bounds one temporal-tree pass.
type TemporalOptions struct {
	Days       int
	SessionCap int // max sessions processed per pass
	DryRun     bool
}

// TemporalReport counts the nodes built.
type TemporalReport struct {
	SessionsProcessed int
	DayNodesCreated   int
	SessionNodesCreated int
}

// BuildTemporalTree emits, for each recently active session, a day node per
// calendar day (edges of kind temporal linking the day node to its leaf
// memories) and one session node linking to every day node (edges of kind
// distill), per spec.md §4.7.
func BuildTemporalTree(ctx context.Context, st *store.Store, projectID, workspace string, opts TemporalOptions) (*TemporalReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "temporal-tree")
	defer timer.Stop()

	sessions, serr := st.Rel.ListSessions(ctx, projectID, opts.SessionCap)
	if serr != nil {
		return nil, serr
	}

	rep := &TemporalReport{}
	cutoff := model.UTCNow().AddDate(0, 0, -opts.Days)

	for _, sid := range sessions {
		mems, lerr := st.Rel.ListScope(ctx, projectID, sid, true, 2000)
		if lerr != nil {
			return rep, lerr
		}
		byDay := map[string][]model.Memory{}
		for _, m := range mems {
			if m.UpdatedAt.Before(cutoff) {
				continue
			}
			day := m.UpdatedAt.Format("2006-01-02")
			byDay[day] = append(byDay[day], m)
		}
		if len(byDay) == 0 {
			continue
		}
		rep.SessionsProcessed++

		days := make([]string, 0, len(byDay))
		for d := range byDay {
			days = append(days, d)
		}
		sort.Strings(days)

		var dayNodeIDs []string
		for _, day := range days {
			leaves := byDay[day]
			if opts.DryRun {
				rep.DayNodesCreated++
				continue
			}
			id, derr := emitNode(ctx, st, projectID, sid, workspace, model.LayerShort,
				fmt.Sprintf("day digest: %s / %s (%d items)", sid, day, len(leaves)), leaves, model.EdgeTemporal)
			if derr != nil {
				return rep, derr
			}
			dayNodeIDs = append(dayNodeIDs, id)
			rep.DayNodesCreated++
		}

		if opts.DryRun || len(dayNodeIDs) == 0 {
			continue
		}
		var dayLeaves []model.Memory
		for _, id := range dayNodeIDs {
			dayLeaves = append(dayLeaves, model.Memory{Envelope: model.Envelope{ID: id}})
		}
		if _, derr := emitNode(ctx, st, projectID, sid, workspace, model.LayerLong,
			fmt.Sprintf("session digest: %s (%d days)", sid, len(dayNodeIDs)), dayLeaves, model.EdgeDistill); derr != nil {
			return rep, derr
		}
		rep.SessionNodesCreated++
	}
	return rep, nil
}

func emitNode(ctx context.Context, st *store.Store, projectID, sessionID, workspace string, layer model.Layer, summary string, leaves []model.Memory, edgeKind model.EdgeKind) (string, *errs.Error) {
	var lines []string
	var refs []model.Reference
	for _, m := range leaves {
		if m.Summary != "" {
			lines = append(lines, "- "+strings.TrimSpace(m.Summary))
		}
		refs = append(refs, model.Reference{Type: string(model.RefMemory), Target: m.ID})
	}
	if len(lines) == 0 {
		lines = append(lines, "- (digest of "+fmt.Sprint(len(leaves))+" nodes)")
	}
	env, werr := st.WriteMemory(ctx, envelope.Input{
		Layer:   layer,
		Kind:    model.KindSummary,
		Summary: summary,
		Body:    strings.Join(lines, "\n"),
		Refs:    refs,
		Source:  model.Source{Tool: "governor", SessionID: sessionID},
		Scope:   model.Scope{ProjectID: projectID, Workspace: workspace},
	}, model.EventWrite)
	if werr != nil {
		return "", werr
	}
	for _, m := range leaves {
		if uerr := st.Rel.UpsertLink(ctx, model.Edge{SrcID: env.ID, DstID: m.ID, Weight: 1.0, Kind: edgeKind}); uerr != nil {
			return env.ID, uerr
		}
	}
	return env.ID, nil
}
