// Package governor implements the lifecycle governance pass (spec.md
// §4.7): decay, promote/demote consolidation, session compression,
// distillation, the temporal tree, rehearsal, reflection, and governance
// feedback. Every mutation goes through internal/store so it lands in the
// event log and stays reindex-replayable.
package governor

import (
	"context"
	"math"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// DecayOptions bounds one decay pass.
type DecayOptions struct {
	Days         int     // only rows whose updated_at is at least this old decay
	Limit        int     // max rows touched per pass
	HalfLifeDays float64 // days for a signal to fall to half its value
}

// DecayReport summarizes one decay pass.
type DecayReport struct {
	Scanned int
	Decayed int
}

// ApplyDecay reduces importance, confidence, stability and volatility for
// memories older than opts.Days by an exponential half-life function,
// bounded to opts.Limit rows. Archive-layer and system rows are exempt.
func ApplyDecay(ctx context.Context, st *store.Store, projectID string, opts DecayOptions) (*DecayReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "decay")
	defer timer.Stop()

	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 21
	}
	mems, lerr := st.Rel.ListScope(ctx, projectID, "", true, opts.Limit)
	if lerr != nil {
		return nil, lerr
	}

	rep := &DecayReport{Scanned: len(mems)}
	now := model.UTCNow()
	for _, m := range mems {
		ageDays := now.Sub(m.UpdatedAt).Hours() / 24
		if ageDays < float64(opts.Days) {
			continue
		}
		factor := math.Pow(0.5, ageDays/opts.HalfLifeDays)
		sig := m.Signals
		sig.Importance = clamp01(sig.Importance * factor)
		sig.Confidence = clamp01(sig.Confidence * factor)
		sig.Stability = clamp01(sig.Stability * factor)
		sig.Volatility = clamp01(sig.Volatility * factor)

		if _, uerr := st.UpdateSignals(ctx, m.ID, sig, model.EventDecay, "age-based half-life decay"); uerr != nil {
			return rep, uerr
		}
		rep.Decayed++
	}
	return rep, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
