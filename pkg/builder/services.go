package builder

import (
	"github.com/artforge-ai/artforge-api/internal/models"
)

func (b *Builder) WithClerkAuth(secretKey, webhookSecret string) *Builder {
	b.cfg.Auth = &models.AuthConfig{
		ClerkConfig: &models.ClerkAuthConfig{
			SecretKey:     secretKey,
			WebhookSecret: webhookSecret,
		},
	}
	return b
}

func (b *Builder) WithBilling(cfg models.BillingConfig) *Builder {
	b.cfg.Billing = &cfg
	return b
}

func (b *Builder) WithCompute(cfg models.ComputeConfig) *Builder {
	b.cfg.Compute = &cfg
	return b
}

func (b *Builder) WithStorage(cfg models.StorageConfig) *Builder {
	b.cfg.Storage = &cfg
	return b
}

func (b *Builder) WithNotify(cfg models.NotifyConfig) *Builder {
	b.cfg.Notify = &cfg
	return b
}

func (b *Builder) WithPricing(cfg models.PricingConfig) *Builder {
	b.cfg.Pricing = &cfg
	return b
}
