package governor

import (
	"context"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// PruneOptions bounds one prune pass. Nothing is ever hard-deleted — every
// store in this design is append-only or content-addressed — so pruning
// retires eligible rows straight to the archive layer instead.
type PruneOptions struct {
	Days      int
	Limit     int
	Layers    []model.Layer
	KeepKinds []model.Kind
	DryRun    bool
}

// PruneReport lists every archived memory id.
type PruneReport struct {
	Archived []string
}

// Prune archives memories older than opts.Days, whose layer is in
// opts.Layers and whose kind is not in opts.KeepKinds.
func Prune(ctx context.Context, st *store.Store, projectID string, opts PruneOptions) (*PruneReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "prune")
	defer timer.Stop()

	layerSet := make(map[model.Layer]struct{}, len(opts.Layers))
	for _, l := range opts.Layers {
		layerSet[l] = struct{}{}
	}
	keepKinds := make(map[model.Kind]struct{}, len(opts.KeepKinds))
	for _, k := range opts.KeepKinds {
		keepKinds[k] = struct{}{}
	}

	mems, lerr := st.Rel.ListScope(ctx, projectID, "", true, opts.Limit)
	if lerr != nil {
		return nil, lerr
	}

	now := model.UTCNow()
	rep := &PruneReport{}
	for _, m := range mems {
		if _, ok := layerSet[m.Layer]; !ok {
			continue
		}
		if _, ok := keepKinds[m.Kind]; ok {
			continue
		}
		ageDays := now.Sub(m.UpdatedAt).Hours() / 24
		if ageDays < float64(opts.Days) {
			continue
		}
		rep.Archived = append(rep.Archived, m.ID)
		if opts.DryRun {
			continue
		}
		if _, uerr := st.UpdateLayer(ctx, m.ID, model.LayerArchive, model.EventConsolidate, "prune: archived"); uerr != nil {
			return rep, uerr
		}
	}
	return rep, nil
}
