package governor

import (
	"context"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/errs"
	"omnimem/internal/logging"
	"omnimem/internal/model"
	"omnimem/internal/store"
)

// MaintenanceReport mirrors the reference daemon's structured maintenance
// result: one sub-report per step, each independently nil-able so a
// disabled or inapplicable step is simply omitted.
type MaintenanceReport struct {
	Decay       *DecayReport
	Prune       *PruneReport
	Consolidate *ConsolidateReport
	Compress    *CompressReport
	Distill     *DistillReport
	Temporal    *TemporalReport
	Rehearsal   *RehearsalReport
	Reflection  *ReflectionReport
}

// RunMaintenance executes one maintenance pass over projectID/sessionID in
// the fixed order spec.md §4.10 names: decay -> optional prune ->
// consolidate -> compress -> optional distill -> optional temporal tree ->
// optional rehearsal -> optional reflection. Each step records its own
// counts and a failure in one step does not prevent the rest from running;
// the first error encountered is still returned once every step has had a
// chance to execute.
func RunMaintenance(ctx context.Context, st *store.Store, cfg config.DaemonConfig, bias Bias, drift float64, projectID, sessionID, workspace string) (*MaintenanceReport, *errs.Error) {
	timer := logging.StartTimer(logging.CategoryGovernor, "maintenance")
	defer timer.Stop()

	rep := &MaintenanceReport{}
	var firstErr *errs.Error

	decayRep, derr := ApplyDecay(ctx, st, projectID, DecayOptions{
		Days: cfg.MaintenanceDecayDays, Limit: cfg.MaintenanceDecayLimit, HalfLifeDays: cfg.DecayHalfLifeDays,
	})
	rep.Decay = decayRep
	firstErr = keepFirst(firstErr, derr)

	if cfg.MaintenancePruneEnabled {
		pruneRep, perr := Prune(ctx, st, projectID, PruneOptions{
			Days: cfg.MaintenancePruneDays, Limit: cfg.MaintenancePruneLimit,
			Layers: toLayers(cfg.MaintenancePruneLayers), KeepKinds: toKinds(cfg.MaintenancePruneKeepKinds),
		})
		rep.Prune = pruneRep
		firstErr = keepFirst(firstErr, perr)
	}

	quantiles := AdaptiveQuantiles{
		PromoteImportance: cfg.AdaptiveQPromoteImportance,
		PromoteConfidence: cfg.AdaptiveQPromoteConfidence,
		PromoteStability:  cfg.AdaptiveQPromoteStability,
		PromoteVolatility: cfg.AdaptiveQPromoteVolatility,
		DemoteVolatility:  cfg.AdaptiveQDemoteVolatility,
		DemoteStability:   cfg.AdaptiveQDemoteStability,
		DemoteReuse:       cfg.AdaptiveQDemoteReuse,
	}
	quantiles = bias.Apply(quantiles, false, drift, 0.55)
	consRep, cerr := ConsolidateMemories(ctx, st, projectID, sessionID, ConsolidateOptions{
		Limit: cfg.MaintenanceConsolidateLimit, Quantiles: quantiles, PromoteReuse: 1,
	})
	rep.Consolidate = consRep
	firstErr = keepFirst(firstErr, cerr)

	compRep, cmerr := CompressSession(ctx, st, projectID, sessionID, workspace, CompressOptions{
		MinItems: cfg.MaintenanceCompressMinItems,
	})
	rep.Compress = compRep
	firstErr = keepFirst(firstErr, cmerr)

	if cfg.MaintenanceDistillEnabled {
		distRep, dierr := DistillSession(ctx, st, projectID, sessionID, workspace, DistillOptions{
			MinItems: cfg.MaintenanceDistillMinItems,
		})
		rep.Distill = distRep
		firstErr = keepFirst(firstErr, dierr)
	}

	if cfg.MaintenanceTemporalTreeEnabled {
		treeRep, terr := BuildTemporalTree(ctx, st, projectID, workspace, TemporalOptions{
			Days: cfg.MaintenanceTemporalTreeDays, SessionCap: 50,
		})
		rep.Temporal = treeRep
		firstErr = keepFirst(firstErr, terr)
	}

	if cfg.MaintenanceRehearsalEnabled {
		rehRep, rerr := Rehearse(ctx, st, projectID, RehearsalOptions{
			Days: cfg.MaintenanceRehearsalDays, Limit: cfg.MaintenanceRehearsalLimit, ReuseStep: 1,
		})
		rep.Rehearsal = rehRep
		firstErr = keepFirst(firstErr, rerr)
	}

	if cfg.MaintenanceReflectionEnabled {
		reflRep, rferr := Reflect(ctx, st, projectID, workspace, ReflectionOptions{
			Days: cfg.MaintenanceReflectionDays, Limit: cfg.MaintenanceReflectionLimit,
			MinRepeats: cfg.MaintenanceReflectionMinRepeats, MaxAvgRetrieved: cfg.MaintenanceReflectionMaxAvgRetrieved,
		})
		rep.Reflection = reflRep
		firstErr = keepFirst(firstErr, rferr)
	}

	return rep, firstErr
}

func keepFirst(existing, next *errs.Error) *errs.Error {
	if existing != nil {
		return existing
	}
	return next
}

func toLayers(names []string) []model.Layer {
	out := make([]model.Layer, 0, len(names))
	for _, n := range names {
		out = append(out, model.Layer(n))
	}
	return out
}

func toKinds(names []string) []model.Kind {
	out := make([]model.Kind, 0, len(names))
	for _, n := range names {
		out = append(out, model.Kind(n))
	}
	return out
}

// DefaultReuseLimiter builds a ReuseLimiter from cfg's feedback settings.
func DefaultReuseLimiter(cfg config.DaemonConfig) *ReuseLimiter {
	return NewReuseLimiter(cfg.MaxAutoReusePerPeriod, time.Duration(cfg.ReusePeriodSeconds)*time.Second)
}
