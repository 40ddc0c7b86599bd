package pkg

import "github.com/artforge-ai/artforge-api/internal/models"

type (
	ServerConfig         = models.ServerConfig
	DatabaseConfig       = models.DatabaseConfig
	AuthConfig           = models.AuthConfig
	ClerkAuthConfig      = models.ClerkAuthConfig
	BillingConfig        = models.BillingConfig
	GatewayConfig        = models.GatewayConfig
	StripeConfig         = models.StripeConfig
	ComputeConfig        = models.ComputeConfig
	CircuitBreakerConfig = models.CircuitBreakerConfig
	StorageConfig        = models.StorageConfig
	NotifyConfig         = models.NotifyConfig
	AMQPConfig           = models.AMQPConfig
	TelegramConfig       = models.TelegramConfig
	PricingConfig        = models.PricingConfig
	RateLimitConfig      = models.RateLimitConfig
	TimeoutConfig        = models.TimeoutConfig
)
