package models

// ComputeConfig configures the GPU job-queue provider client and the
// reconciliation loop.
type ComputeConfig struct {
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	JWTSecret     string `json:"jwt_secret,omitzero" yaml:"jwt_secret"`
	WebhookSecret string `json:"webhook_secret,omitzero" yaml:"webhook_secret"`
	TimeoutMs     int    `json:"timeout_ms,omitzero" yaml:"timeout_ms"`

	// PollIntervalSec drives the reconciler scheduler that sweeps
	// non-terminal jobs whose webhooks never arrived.
	PollIntervalSec int `json:"poll_interval_sec,omitzero" yaml:"poll_interval_sec"`
	PollWorkers     int `json:"poll_workers,omitzero" yaml:"poll_workers"`

	// RefundOnFailure controls whether a FAILED/CANCELLED job refunds its
	// already-charged cost.
	RefundOnFailure bool `json:"refund_on_failure" yaml:"refund_on_failure"`

	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold,omitzero" yaml:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold,omitzero" yaml:"success_threshold"`
	TimeoutMs        int `json:"timeout_ms,omitzero" yaml:"timeout_ms"`
	ResetAfterMs     int `json:"reset_after_ms,omitzero" yaml:"reset_after_ms"`
}
