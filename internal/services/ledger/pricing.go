package ledger

import "github.com/artforge-ai/artforge-api/internal/models"

// Feature identifies one billable capability of a generation request.
type Feature string

const (
	FeatureBaseGeneration     Feature = "base_generation"
	FeatureAdvancedModel      Feature = "advanced_model"
	FeatureHighResolution     Feature = "high_resolution"
	FeatureUpscale            Feature = "upscale"
	FeatureWithCharacter      Feature = "with_character"
	FeatureReferenceImages    Feature = "reference_images"
	FeatureExtraOutput        Feature = "extra_output"
	FeatureLoraTraining       Feature = "lora_training"
)

// defaultFeatureCosts is the built-in price table, in tokens. Deployments
// override individual entries through PricingConfig.
var defaultFeatureCosts = map[Feature]int64{
	FeatureBaseGeneration:  10,
	FeatureAdvancedModel:   30,
	FeatureHighResolution:  10,
	FeatureUpscale:         15,
	FeatureWithCharacter:   20,
	FeatureReferenceImages: 10,
	FeatureExtraOutput:     10,
}

// defaultMinimumCost applies when no feature predicate matches, so a
// misconfigured request is never executed for free.
const defaultMinimumCost int64 = 10

// advancedModels are priced above the base tier.
var advancedModels = map[string]bool{
	"flux-pro":    true,
	"flux-ultra":  true,
	"sdxl-turbo-max": true,
}

const highResolutionThreshold = 1024 * 1024

// PricingTable maps a billable-action descriptor to an integer token cost.
// Pure and total: every predicate is evaluated against the job spec and matched
// feature costs are summed; no match yields the configured minimum.
type PricingTable struct {
	costs       map[Feature]int64
	minimumCost int64
}

// NewPricingTable builds the table from built-in defaults with optional
// config overrides.
func NewPricingTable(cfg *models.PricingConfig) *PricingTable {
	costs := make(map[Feature]int64, len(defaultFeatureCosts))
	for feature, cost := range defaultFeatureCosts {
		costs[feature] = cost
	}
	minimum := defaultMinimumCost

	if cfg != nil {
		for id, cost := range cfg.FeatureCosts {
			if cost >= 0 {
				costs[Feature(id)] = cost
			}
		}
		if cfg.DefaultMinimumCost > 0 {
			minimum = cfg.DefaultMinimumCost
		}
	}

	return &PricingTable{costs: costs, minimumCost: minimum}
}

// Features lists the billable features a job spec exercises. LoRA training
// is billed in specialized credits and handled by LoraCost, not here.
func (p *PricingTable) Features(spec models.JobSpec) []Feature {
	var matched []Feature

	if spec.Prompt != "" && !spec.LoraTraining {
		matched = append(matched, FeatureBaseGeneration)
	}
	if advancedModels[spec.Model] {
		matched = append(matched, FeatureAdvancedModel)
	}
	if spec.Width*spec.Height > highResolutionThreshold {
		matched = append(matched, FeatureHighResolution)
	}
	if spec.Upscale {
		matched = append(matched, FeatureUpscale)
	}
	if spec.WithCharacter {
		matched = append(matched, FeatureWithCharacter)
	}
	if len(spec.ReferenceURLs) > 0 {
		matched = append(matched, FeatureReferenceImages)
	}

	return matched
}

// Cost prices a job spec in tokens. Always returns a value; never errors.
func (p *PricingTable) Cost(spec models.JobSpec) int64 {
	var total int64
	for _, feature := range p.Features(spec) {
		total += p.costs[feature]
	}

	if extra := spec.NumOutputs - 1; extra > 0 {
		total += int64(extra) * p.costs[FeatureExtraOutput]
	}

	if total <= 0 {
		return p.minimumCost
	}
	return total
}

// LoraCost prices the specialized-credit portion of a job spec.
func (p *PricingTable) LoraCost(spec models.JobSpec) int64 {
	if !spec.LoraTraining {
		return 0
	}
	if cost, ok := p.costs[FeatureLoraTraining]; ok && cost > 0 {
		return cost
	}
	return 1
}

// FeatureCost exposes a single feature's price, mainly for handlers that
// quote prices to the UI.
func (p *PricingTable) FeatureCost(feature Feature) int64 {
	return p.costs[feature]
}
