package governor

import (
	"context"
	"fmt"
	"strings"

	"omnimem/internal/envelope"
	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/retrieval"
	"omnimem/internal/store"
)

// DistillOptions bounds one distillation pass.
type DistillOptions struct {
	MinItems int
	DryRun   bool
}

// DistillReport names the digests produced, if any.
type DistillReport struct {
	SemanticDigestID   string
	ProceduralDigestID string
}

// DistillSession classifies sessionID's memories into semantic and
// procedural clusters by query-route classification of their summaries,
// and emits up to two digest memories (kind=summary, layer=long for the
// semantic digest, layer=short for the procedural one) each linked back to
// its source memories by a distill edge (spec.md §4.7).
func DistillSession(ctx context.Context, st *store.Store, projectID, sessionID, workspace string, opts DistillOptions) (*DistillReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "distill")
	defer timer.Stop()

	mems, lerr := st.Rel.ListScope(ctx, projectID, sessionID, true, opts.MinItems*4+1)
	if lerr != nil {
		return nil, lerr
	}
	if len(mems) < opts.MinItems {
		return &DistillReport{}, nil
	}

	var semantic, procedural []model.Memory
	for _, m := range mems {
		switch retrieval.ClassifyRoute(m.Summary + " " + m.BodyText) {
		case model.RouteSemantic:
			semantic = append(semantic, m)
		case model.RouteProcedural:
			procedural = append(procedural, m)
		}
	}

	rep := &DistillReport{}
	if len(semantic) > 0 {
		id, derr := emitDigest(ctx, st, projectID, sessionID, workspace, model.LayerLong, "semantic", semantic, opts.DryRun)
		if derr != nil {
			return rep, derr
		}
		rep.SemanticDigestID = id
	}
	if len(procedural) > 0 {
		id, derr := emitDigest(ctx, st, projectID, sessionID, workspace, model.LayerShort, "procedural", procedural, opts.DryRun)
		if derr != nil {
			return rep, derr
		}
		rep.ProceduralDigestID = id
	}
	return rep, nil
}

func emitDigest(ctx context.Context, st *store.Store, projectID, sessionID, workspace string, layer model.Layer, clusterName string, cluster []model.Memory, dryRun bool) (string, *errs.Error) {
	if dryRun {
		return "", nil
	}
	var lines []string
	var refs []model.Reference
	for _, m := range cluster {
		lines = append(lines, "- "+strings.TrimSpace(m.Summary))
		refs = append(refs, model.Reference{Type: string(model.RefMemory), Target: m.ID})
	}
	env, werr := st.WriteMemory(ctx, envelope.Input{
		Layer:   layer,
		Kind:    model.KindSummary,
		Summary: fmt.Sprintf("%s digest: %s (%d items)", clusterName, sessionID, len(cluster)),
		Body:    strings.Join(lines, "\n"),
		Refs:    refs,
		Source:  model.Source{Tool: "governor", SessionID: sessionID},
		Scope:   model.Scope{ProjectID: projectID, Workspace: workspace},
	}, model.EventWrite)
	if werr != nil {
		return "", werr
	}
	for _, m := range cluster {
		if uerr := st.Rel.UpsertLink(ctx, model.Edge{SrcID: env.ID, DstID: m.ID, Weight: 1.0, Kind: model.EdgeDistill}); uerr != nil {
			return env.ID, uerr
		}
	}
	return env.ID, nil
}
