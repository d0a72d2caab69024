package governor

import (
	"context"
	"sort"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// RehearsalOptions bounds one rehearsal pass.
type RehearsalOptions struct {
	Days       int // only considers memories updated within the last Days
	Limit      int // max memories rehearsed per pass
	ReuseStep  int // reuse_count increment applied to each rehearsed memory
	DryRun     bool
}

// RehearsalReport lists every memory id whose reuse_count was bumped.
type RehearsalReport struct {
	Rehearsed []string
}

// Rehearse periodically selects low-reuse but high-importance memories and
// bumps reuse_count to counter decay (spec.md §4.7): within the window it
// ranks candidates by importance descending among those whose reuse_count
// is at or below the window's median, and rehearses the top opts.Limit.
func Rehearse(ctx context.Context, st *store.Store, projectID string, opts RehearsalOptions) (*RehearsalReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "rehearsal")
	defer timer.Stop()

	if opts.ReuseStep <= 0 {
		opts.ReuseStep = 1
	}
	mems, lerr := st.Rel.ListScope(ctx, projectID, "", true, 2000)
	if lerr != nil {
		return nil, lerr
	}
	cutoff := model.UTCNow().AddDate(0, 0, -opts.Days)
	var inWindow []model.Memory
	reuse := make([]float64, 0, len(mems))
	for _, m := range mems {
		if m.UpdatedAt.Before(cutoff) {
			continue
		}
		inWindow = append(inWindow, m)
		reuse = append(reuse, float64(m.Signals.ReuseCount))
	}
	medianReuse := quantile(reuse, 0.5)

	candidates := make([]model.Memory, 0, len(inWindow))
	for _, m := range inWindow {
		if float64(m.Signals.ReuseCount) <= medianReuse {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Signals.Importance > candidates[j].Signals.Importance
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	rep := &RehearsalReport{}
	for _, m := range candidates {
		rep.Rehearsed = append(rep.Rehearsed, m.ID)
		if opts.DryRun {
			continue
		}
		sig := m.Signals
		sig.ReuseCount += opts.ReuseStep
		if _, uerr := st.UpdateSignals(ctx, m.ID, sig, model.EventConsolidate, "rehearsal: reuse bump"); uerr != nil {
			return rep, uerr
		}
	}
	return rep, nil
}
