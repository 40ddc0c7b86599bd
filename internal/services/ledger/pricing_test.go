package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artforge-ai/artforge-api/internal/models"
)

func baseSpec() models.JobSpec {
	return models.JobSpec{
		UserID:     "user-1",
		Model:      "flux-base",
		Prompt:     "a watercolor fox",
		Width:      512,
		Height:     512,
		NumOutputs: 1,
	}
}

func TestCostBaseGeneration(t *testing.T) {
	table := NewPricingTable(nil)

	assert.Equal(t, int64(10), table.Cost(baseSpec()))
}

func TestCostSumsMatchedFeatures(t *testing.T) {
	table := NewPricingTable(nil)

	spec := baseSpec()
	spec.Model = "flux-pro"
	spec.Width = 2048
	spec.Height = 2048
	spec.Upscale = true

	// base 10 + advanced 30 + high-res 10 + upscale 15
	assert.Equal(t, int64(65), table.Cost(spec))
}

func TestCostExtraOutputs(t *testing.T) {
	table := NewPricingTable(nil)

	spec := baseSpec()
	spec.NumOutputs = 4

	// base 10 + 3 extra outputs at 10 each
	assert.Equal(t, int64(40), table.Cost(spec))
}

func TestCostReferenceImagesAndCharacter(t *testing.T) {
	table := NewPricingTable(nil)

	spec := baseSpec()
	spec.ReferenceURLs = []string{"https://cdn.example/ref.png"}
	spec.WithCharacter = true

	// base 10 + reference 10 + character 20
	assert.Equal(t, int64(40), table.Cost(spec))
}

func TestCostMinimumWhenNothingMatches(t *testing.T) {
	table := NewPricingTable(nil)

	// No prompt, no features: still never free.
	spec := models.JobSpec{UserID: "user-1", Model: "flux-base"}
	assert.Equal(t, int64(10), table.Cost(spec))
}

func TestCostConfigOverrides(t *testing.T) {
	table := NewPricingTable(&models.PricingConfig{
		FeatureCosts: map[string]int64{
			string(FeatureBaseGeneration): 5,
			string(FeatureUpscale):        50,
		},
		DefaultMinimumCost: 3,
	})

	spec := baseSpec()
	spec.Upscale = true
	assert.Equal(t, int64(55), table.Cost(spec))

	empty := models.JobSpec{UserID: "user-1"}
	assert.Equal(t, int64(3), table.Cost(empty))
}

func TestCostIsDeterministic(t *testing.T) {
	table := NewPricingTable(nil)
	spec := baseSpec()
	spec.Model = "flux-ultra"
	spec.NumOutputs = 2

	first := table.Cost(spec)
	for range 5 {
		assert.Equal(t, first, table.Cost(spec))
	}
}

func TestLoraCost(t *testing.T) {
	table := NewPricingTable(nil)

	spec := baseSpec()
	assert.Equal(t, int64(0), table.LoraCost(spec))

	spec.LoraTraining = true
	assert.Equal(t, int64(1), table.LoraCost(spec))

	overridden := NewPricingTable(&models.PricingConfig{
		FeatureCosts: map[string]int64{string(FeatureLoraTraining): 4},
	})
	assert.Equal(t, int64(4), overridden.LoraCost(spec))
}

func TestEntitlementFreeTier(t *testing.T) {
	account := &models.Account{UserID: "user-1", SubscriptionTier: models.TierFree}

	assert.True(t, IsEntitled(account, FeatureBaseGeneration))
	assert.False(t, IsEntitled(account, FeatureAdvancedModel))
	assert.False(t, IsEntitled(account, FeatureLoraTraining))
}

func TestEntitlementPaidTierRequiresPaidFlag(t *testing.T) {
	// Tier string alone is not enough; the paid flag must be set too.
	account := &models.Account{UserID: "user-1", SubscriptionTier: models.TierPro}
	assert.False(t, IsEntitled(account, FeatureAdvancedModel))

	account.IsPaidCustomer = true
	assert.True(t, IsEntitled(account, FeatureAdvancedModel))
	assert.False(t, IsEntitled(account, FeatureLoraTraining))
}

func TestEntitlementFailsClosedOnUnknownTier(t *testing.T) {
	account := &models.Account{
		UserID:           "user-1",
		SubscriptionTier: models.SubscriptionTier("enterprise-beta"),
		IsPaidCustomer:   true,
	}

	assert.True(t, IsEntitled(account, FeatureBaseGeneration))
	assert.False(t, IsEntitled(account, FeatureAdvancedModel))
}

func TestEntitlementAdminBypassesTiers(t *testing.T) {
	account := &models.Account{UserID: "ops", SubscriptionTier: models.TierFree, IsAdmin: true}

	assert.True(t, IsEntitled(account, FeatureLoraTraining))
	assert.True(t, IsEntitled(account, FeatureAdvancedModel))
}

func TestCheckEntitlement(t *testing.T) {
	table := NewPricingTable(nil)
	free := &models.Account{UserID: "user-1", SubscriptionTier: models.TierFree}

	assert.NoError(t, CheckEntitlement(free, table, baseSpec()))

	spec := baseSpec()
	spec.Model = "flux-pro"
	assert.ErrorIs(t, CheckEntitlement(free, table, spec), models.ErrFeatureNotEntitled)

	studio := &models.Account{
		UserID:           "user-2",
		SubscriptionTier: models.TierStudio,
		IsPaidCustomer:   true,
	}
	training := baseSpec()
	training.LoraTraining = true
	assert.NoError(t, CheckEntitlement(studio, table, training))
}
