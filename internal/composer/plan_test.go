package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"omnimem/internal/model"
)

func TestResolvePlan_BalancedNormalIsIdentity(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileBalanced, QuotaMode: model.QuotaNormal,
		ContextBudgetTokens: 400, RetrieveLimit: 8,
	})
	assert.Equal(t, 400, plan.ContextBudgetTokens)
	assert.Equal(t, 8, plan.RetrieveLimit)
	assert.True(t, plan.PreferDeltaContext)
}

func TestResolvePlan_DeepResearchScalesUp(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileDeepResearch, QuotaMode: model.QuotaNormal,
		ContextBudgetTokens: 400, RetrieveLimit: 8,
	})
	assert.Equal(t, 540, plan.ContextBudgetTokens)
	assert.Equal(t, 11, plan.RetrieveLimit)
}

func TestResolvePlan_AutoEscalatesOnLongPrompt(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileBalanced, QuotaMode: model.QuotaAuto,
		ContextBudgetTokens: 400, RetrieveLimit: 8, PromptTokensEstimate: 1300,
	})
	assert.Equal(t, model.QuotaCritical, plan.QuotaMode)
	assert.Equal(t, 248, plan.ContextBudgetTokens)
}

func TestResolvePlan_AutoEscalatesOnTransientFailures(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileBalanced, QuotaMode: model.QuotaAuto,
		ContextBudgetTokens: 400, RetrieveLimit: 8, RecentTransientFailures: 7,
	})
	assert.Equal(t, model.QuotaCritical, plan.QuotaMode)
}

func TestResolvePlan_LowQuotaProfileEnforcesAtLeastLow(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileLowQuota, QuotaMode: model.QuotaAuto,
		ContextBudgetTokens: 400, RetrieveLimit: 8, PromptTokensEstimate: 100,
	})
	assert.Equal(t, model.QuotaLow, plan.QuotaMode)
}

func TestResolvePlan_ClampsToBounds(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: ProfileDeepResearch, QuotaMode: model.QuotaNormal,
		ContextBudgetTokens: 100000, RetrieveLimit: 1000,
	})
	assert.Equal(t, 1400, plan.ContextBudgetTokens)
	assert.Equal(t, 24, plan.RetrieveLimit)
}

func TestResolvePlan_InvalidProfileFallsBackToBalanced(t *testing.T) {
	plan := ResolvePlan(PlanInput{
		Profile: Profile("bogus"), QuotaMode: model.QuotaNormal,
		ContextBudgetTokens: 400, RetrieveLimit: 8,
	})
	assert.Equal(t, ProfileBalanced, plan.Profile)
}
