package models

// PricingConfig lets deployments override the static feature-cost table.
// Prices change by configuration, never at runtime.
type PricingConfig struct {
	// FeatureCosts maps feature id -> token cost, overriding built-in
	// defaults for the ids present.
	FeatureCosts map[string]int64 `json:"feature_costs,omitempty" yaml:"feature_costs,omitempty"`

	// DefaultMinimumCost is charged when a request matches no feature
	// predicate, so misconfiguration never yields free execution.
	DefaultMinimumCost int64 `json:"default_minimum_cost,omitzero" yaml:"default_minimum_cost"`
}
