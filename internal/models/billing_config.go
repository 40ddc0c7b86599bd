package models

// BillingConfig wires the two purchase paths: the crypto payment gateway
// (invoice + HMAC-signed IPN webhook) and Stripe checkout.
type BillingConfig struct {
	Gateway *GatewayConfig `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	Stripe  *StripeConfig  `json:"stripe,omitempty" yaml:"stripe,omitempty"`

	// SignupBonusTokens is credited once per user on account provisioning.
	SignupBonusTokens int64 `json:"signup_bonus_tokens,omitzero" yaml:"signup_bonus_tokens"`
}

// GatewayConfig configures the crypto payment gateway client. IPNSecret is
// the shared secret for the HMAC-SHA512 webhook signature.
type GatewayConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	IPNSecret  string `json:"ipn_secret" yaml:"ipn_secret"`
	CallbackURL string `json:"callback_url,omitzero" yaml:"callback_url"`
	TimeoutMs  int    `json:"timeout_ms,omitzero" yaml:"timeout_ms"`
}

type StripeConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}
