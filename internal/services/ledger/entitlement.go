package ledger

import "github.com/artforge-ai/artforge-api/internal/models"

// tierFeatures maps each subscription tier to the features it may use.
// Balance is checked separately; both gates must pass for a paid action.
var tierFeatures = map[models.SubscriptionTier]map[Feature]bool{
	models.TierFree: {
		FeatureBaseGeneration: true,
	},
	models.TierBasic: {
		FeatureBaseGeneration:  true,
		FeatureHighResolution:  true,
		FeatureUpscale:         true,
		FeatureExtraOutput:     true,
	},
	models.TierPro: {
		FeatureBaseGeneration:  true,
		FeatureAdvancedModel:   true,
		FeatureHighResolution:  true,
		FeatureUpscale:         true,
		FeatureWithCharacter:   true,
		FeatureReferenceImages: true,
		FeatureExtraOutput:     true,
	},
	models.TierStudio: {
		FeatureBaseGeneration:  true,
		FeatureAdvancedModel:   true,
		FeatureHighResolution:  true,
		FeatureUpscale:         true,
		FeatureWithCharacter:   true,
		FeatureReferenceImages: true,
		FeatureExtraOutput:     true,
		FeatureLoraTraining:    true,
	},
}

// IsEntitled reports whether the account's tier permits the feature at all,
// independent of balance. Admins are entitled to everything. Unrecognized
// tiers fail closed to the free feature set.
func IsEntitled(account *models.Account, feature Feature) bool {
	if account == nil {
		return false
	}
	if account.IsAdmin {
		return true
	}

	features, ok := tierFeatures[account.Tier()]
	if !ok {
		features = tierFeatures[models.TierFree]
	}
	return features[feature]
}

// CheckEntitlement verifies every feature a spec exercises, returning the
// typed authorization failure on the first miss.
func CheckEntitlement(account *models.Account, table *PricingTable, spec models.JobSpec) error {
	features := table.Features(spec)
	if spec.LoraTraining {
		features = append(features, FeatureLoraTraining)
	}
	for _, feature := range features {
		if !IsEntitled(account, feature) {
			return models.ErrFeatureNotEntitled
		}
	}
	return nil
}
