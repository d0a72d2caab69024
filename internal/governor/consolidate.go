package governor

import (
	"context"
	"sort"

	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// AdaptiveQuantiles names each promote/demote gate as a quantile (0..1) of
// the in-scope signal distribution for this pass, mirroring the reference
// daemon's maintenance_adaptive_q_* defaults.
type AdaptiveQuantiles struct {
	PromoteImportance float64 // promote requires importance >= this quantile
	PromoteConfidence float64 // promote requires confidence >= this quantile
	PromoteStability  float64 // promote requires stability >= this quantile
	PromoteVolatility float64 // promote requires volatility <= this quantile
	DemoteVolatility  float64 // demote requires volatility >= this quantile
	DemoteStability   float64 // demote requires stability <= this quantile
	DemoteReuse       float64 // demote requires reuse_count <= this quantile
}

// Bias holds the feedback-aware and drift-aware adjustments spec.md §4.7
// describes: negative/forget feedback raises PromoteConfidence and lowers
// DemoteVolatility (harder to demote); high drift lowers DemoteVolatility
// further (more aggressive demotion of the volatile tail) and raises
// PromoteImportance. Adjustments act on the quantile fractions themselves,
// before they are resolved against the distribution.
type Bias struct {
	FeedbackPConfBoost float64
	FeedbackDVolRelief float64
	DriftDVolBoost     float64
	DriftPImpBoost     float64
}

// Apply returns a copy of q adjusted by negative/forget feedback pressure
// and the current drift score, clamped back into [0,1].
func (b Bias) Apply(q AdaptiveQuantiles, negativeFeedbackPressure bool, drift, driftThreshold float64) AdaptiveQuantiles {
	if negativeFeedbackPressure {
		q.PromoteConfidence = clamp01(q.PromoteConfidence + b.FeedbackPConfBoost)
		q.DemoteVolatility = clamp01(q.DemoteVolatility + b.FeedbackDVolRelief)
	}
	if drift >= driftThreshold {
		q.DemoteVolatility = clamp01(q.DemoteVolatility - b.DriftDVolBoost)
		q.PromoteImportance = clamp01(q.PromoteImportance + b.DriftPImpBoost)
	}
	return q
}

// ConsolidateOptions bounds one consolidation pass.
type ConsolidateOptions struct {
	Limit        int
	Quantiles    AdaptiveQuantiles
	PromoteReuse int // fixed (non-adaptive) reuse_count floor for promotion
	DryRun       bool
}

// ConsolidateReport lists every promoted and demoted memory id. In dry-run
// mode it reports what would move without mutating anything.
type ConsolidateReport struct {
	Promoted []string
	Demoted  []string
}

var promoteStep = map[model.Layer]model.Layer{
	model.LayerInstant: model.LayerShort,
	model.LayerShort:   model.LayerLong,
}

var demoteStep = map[model.Layer]model.Layer{
	model.LayerLong:  model.LayerShort,
	model.LayerShort: model.LayerInstant,
}

// resolvedThresholds are the actual signal-space cutoffs derived from
// AdaptiveQuantiles against one pass's distribution.
type resolvedThresholds struct {
	promoteImportance, promoteConfidence, promoteStability, promoteVolatility float64
	demoteVolatility, demoteStability, demoteReuse                           float64
}

// ConsolidateMemories promotes or demotes memories in projectID/sessionID
// one layer at a time, per spec.md §4.7: promote instant|short -> short|long
// when importance/confidence/stability clear their quantile floors,
// volatility is under its quantile ceiling, and reuse_count clears
// opts.PromoteReuse; demote long|short -> short|instant when volatility
// clears its quantile floor, stability is under its quantile ceiling, and
// reuse_count is under its quantile ceiling. Every applied transition is
// logged as a memory.promote event carrying before/after layers.
func ConsolidateMemories(ctx context.Context, st *store.Store, projectID, sessionID string, opts ConsolidateOptions) (*ConsolidateReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "consolidate")
	defer timer.Stop()

	mems, lerr := st.Rel.ListScope(ctx, projectID, sessionID, true, opts.Limit)
	if lerr != nil {
		return nil, lerr
	}

	rt := resolveAdaptive(mems, opts.Quantiles)
	rep := &ConsolidateReport{}

	for _, m := range mems {
		sig := m.Signals
		switch {
		case sig.Importance >= rt.promoteImportance &&
			sig.Confidence >= rt.promoteConfidence &&
			sig.Stability >= rt.promoteStability &&
			sig.Volatility <= rt.promoteVolatility &&
			sig.ReuseCount >= opts.PromoteReuse:
			next, ok := promoteStep[m.Layer]
			if !ok {
				continue
			}
			rep.Promoted = append(rep.Promoted, m.ID)
			if opts.DryRun {
				continue
			}
			if _, uerr := st.UpdateLayer(ctx, m.ID, next, model.EventPromote, "consolidate: promote"); uerr != nil {
				return rep, uerr
			}

		case sig.Volatility >= rt.demoteVolatility &&
			sig.Stability <= rt.demoteStability &&
			float64(sig.ReuseCount) <= rt.demoteReuse:
			next, ok := demoteStep[m.Layer]
			if !ok {
				continue
			}
			rep.Demoted = append(rep.Demoted, m.ID)
			if opts.DryRun {
				continue
			}
			if _, uerr := st.UpdateLayer(ctx, m.ID, next, model.EventPromote, "consolidate: demote"); uerr != nil {
				return rep, uerr
			}
		}
	}
	return rep, nil
}

func resolveAdaptive(mems []model.Memory, q AdaptiveQuantiles) resolvedThresholds {
	if len(mems) == 0 {
		return resolvedThresholds{}
	}
	imp, conf, stab, vol, reuse := make([]float64, 0, len(mems)), make([]float64, 0, len(mems)), make([]float64, 0, len(mems)), make([]float64, 0, len(mems)), make([]float64, 0, len(mems))
	for _, m := range mems {
		imp = append(imp, m.Signals.Importance)
		conf = append(conf, m.Signals.Confidence)
		stab = append(stab, m.Signals.Stability)
		vol = append(vol, m.Signals.Volatility)
		reuse = append(reuse, float64(m.Signals.ReuseCount))
	}
	return resolvedThresholds{
		promoteImportance: quantile(imp, q.PromoteImportance),
		promoteConfidence: quantile(conf, q.PromoteConfidence),
		promoteStability:  quantile(stab, q.PromoteStability),
		promoteVolatility: quantile(vol, q.PromoteVolatility),
		demoteVolatility:  quantile(vol, q.DemoteVolatility),
		demoteStability:   quantile(stab, q.DemoteStability),
		demoteReuse:       quantile(reuse, q.DemoteReuse),
	}
}

// quantile returns the value at fraction q (0..1) of a sorted copy of xs
// using linear interpolation between closest ranks.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
