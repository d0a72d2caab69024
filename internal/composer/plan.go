package composer

import (
	"fmt"
	"math"
	"strings"

	"omnimem/internal/model"
)

// Profile is the caller's declared workload shape.
type Profile string

const (
	ProfileBalanced       Profile = "balanced"
	ProfileLowQuota       Profile = "low_quota"
	ProfileDeepResearch   Profile = "deep_research"
	ProfileHighThroughput Profile = "high_throughput"
)

func (p Profile) valid() bool {
	switch p {
	case ProfileBalanced, ProfileLowQuota, ProfileDeepResearch, ProfileHighThroughput:
		return true
	}
	return false
}

// PlanInput is everything ResolvePlan needs to compute a ContextPlan.
type PlanInput struct {
	Profile                  Profile
	QuotaMode                model.QuotaMode
	ContextBudgetTokens      int
	RetrieveLimit            int
	PromptTokensEstimate     int
	RecentTransientFailures  int
	RecentContextUtilization float64
}

// ContextPlan is the resolved, clamped sizing decision for one turn.
type ContextPlan struct {
	Profile             Profile
	QuotaMode           model.QuotaMode
	ContextBudgetTokens int
	RetrieveLimit       int
	PreferDeltaContext  bool
	StablePrefix        bool
	DecisionReason      string
}

var profileBudgetMul = map[Profile]float64{
	ProfileBalanced: 1.0, ProfileLowQuota: 0.72, ProfileDeepResearch: 1.35, ProfileHighThroughput: 0.88,
}
var profileLimitMul = map[Profile]float64{
	ProfileBalanced: 1.0, ProfileLowQuota: 0.75, ProfileDeepResearch: 1.40, ProfileHighThroughput: 0.90,
}
var profileDelta = map[Profile]bool{
	ProfileBalanced: true, ProfileLowQuota: true, ProfileDeepResearch: true, ProfileHighThroughput: false,
}
var quotaBudgetMul = map[model.QuotaMode]float64{
	model.QuotaNormal: 1.0, model.QuotaLow: 0.82, model.QuotaCritical: 0.62,
}
var quotaLimitMul = map[model.QuotaMode]float64{
	model.QuotaNormal: 1.0, model.QuotaLow: 0.86, model.QuotaCritical: 0.72,
}

// ResolvePlan implements spec.md §4.9's context-plan resolver: profile and
// quota multiplier tables, auto quota-mode escalation, and a final clamp
// to budget∈[160,1400], limit∈[4,24].
func ResolvePlan(in PlanInput) ContextPlan {
	p := in.Profile
	if !p.valid() {
		p = ProfileBalanced
	}
	qRaw := in.QuotaMode
	if qRaw == "" || !qRaw.Valid() {
		qRaw = model.QuotaNormal
	}
	q := qRaw
	var reasonParts []string

	if q == model.QuotaAuto {
		n := maxInt(0, in.PromptTokensEstimate)
		switch {
		case n >= 1200:
			q = model.QuotaCritical
			reasonParts = append(reasonParts, fmt.Sprintf("auto quota: prompt_tokens_estimate=%d >= 1200 -> critical", n))
		case n >= 520:
			q = model.QuotaLow
			reasonParts = append(reasonParts, fmt.Sprintf("auto quota: prompt_tokens_estimate=%d >= 520 -> low", n))
		default:
			q = model.QuotaNormal
			reasonParts = append(reasonParts, fmt.Sprintf("auto quota: prompt_tokens_estimate=%d < 520 -> normal", n))
		}
		if p == ProfileLowQuota && q == model.QuotaNormal {
			q = model.QuotaLow
			reasonParts = append(reasonParts, "profile=low_quota enforces at least low")
		}
		rt := maxInt(0, in.RecentTransientFailures)
		if rt >= 7 && q != model.QuotaCritical {
			q = model.QuotaCritical
			reasonParts = append(reasonParts, fmt.Sprintf("recent transient failures=%d -> critical", rt))
		} else if rt >= 3 && q == model.QuotaNormal {
			q = model.QuotaLow
			reasonParts = append(reasonParts, fmt.Sprintf("recent transient failures=%d -> low", rt))
		}
		cu := in.RecentContextUtilization
		if cu >= 0.96 && q != model.QuotaCritical {
			q = model.QuotaCritical
			reasonParts = append(reasonParts, fmt.Sprintf("recent context utilization=%.2f -> critical", cu))
		} else if cu >= 0.88 && q == model.QuotaNormal {
			q = model.QuotaLow
			reasonParts = append(reasonParts, fmt.Sprintf("recent context utilization=%.2f -> low", cu))
		}
	}

	baseBudget := maxInt(120, in.ContextBudgetTokens)
	baseLimit := maxInt(1, in.RetrieveLimit)

	budget := clampInt(round(float64(baseBudget)*profileBudgetMul[p]*quotaBudgetMul[q]), 160, 1400)
	limit := clampInt(round(float64(baseLimit)*profileLimitMul[p]*quotaLimitMul[q]), 4, 24)
	preferDelta := profileDelta[p] || q == model.QuotaLow || q == model.QuotaCritical

	reason := strings.Join(reasonParts, "; ")
	if reason == "" {
		reason = fmt.Sprintf("manual quota mode: %s; profile=%s", q, p)
	}

	return ContextPlan{
		Profile: p, QuotaMode: q, ContextBudgetTokens: budget, RetrieveLimit: limit,
		PreferDeltaContext: preferDelta, StablePrefix: true, DecisionReason: reason,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round(v float64) int {
	return int(math.Round(v))
}
