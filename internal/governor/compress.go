package governor

import (
	"context"
	"fmt"
	"strings"

	"omnimem/internal/envelope"
	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// CompressOptions bounds one session-compression pass.
type CompressOptions struct {
	MinItems int
	DryRun   bool
}

// CompressReport describes the outcome of one session compression attempt.
type CompressReport struct {
	Applicable     bool
	SourceCount    int
	SummaryID      string // empty when DryRun or not applicable
	SummaryPreview string
}

// CompressSession creates one kind=summary memory referencing every source
// memory by id once sessionID has accumulated at least opts.MinItems
// non-retrieve memories (spec.md §4.7). Sources are left untouched.
func CompressSession(ctx context.Context, st *store.Store, projectID, sessionID, workspace string, opts CompressOptions) (*CompressReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "compress")
	defer timer.Stop()

	mems, lerr := st.Rel.ListScope(ctx, projectID, sessionID, true, opts.MinItems*4+1)
	if lerr != nil {
		return nil, lerr
	}
	if len(mems) < opts.MinItems {
		return &CompressReport{Applicable: false, SourceCount: len(mems)}, nil
	}

	var lines []string
	var refs []model.Reference
	for _, m := range mems {
		lines = append(lines, "- "+strings.TrimSpace(m.Summary))
		refs = append(refs, model.Reference{Type: string(model.RefMemory), Target: m.ID})
	}
	body := strings.Join(lines, "\n")
	summary := fmt.Sprintf("session summary: %s (%d items)", sessionID, len(mems))

	rep := &CompressReport{Applicable: true, SourceCount: len(mems), SummaryPreview: body}
	if opts.DryRun {
		return rep, nil
	}

	env, werr := st.WriteMemory(ctx, envelope.Input{
		Layer:   model.LayerShort,
		Kind:    model.KindSummary,
		Summary: summary,
		Body:    body,
		Refs:    refs,
		Source:  model.Source{Tool: "governor", SessionID: sessionID},
		Scope:   model.Scope{ProjectID: projectID, Workspace: workspace},
	}, model.EventWrite)
	if werr != nil {
		return rep, werr
	}
	rep.SummaryID = env.ID
	return rep, nil
}
