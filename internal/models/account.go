package models

import "time"

// SubscriptionTier is the billing plan an account is on. Tiers gate feature
// access independently of balance.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPro     SubscriptionTier = "pro"
	TierStudio  SubscriptionTier = "studio"
)

// Account holds the per-user token balances and subscription state. Balances
// are mutated only through the ledger service and are never negative.
type Account struct {
	ID               uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string           `gorm:"uniqueIndex;not null" json:"user_id"`
	Tokens           int64            `gorm:"not null;default:0" json:"tokens"`
	LoraCredits      int64            `gorm:"not null;default:0" json:"lora_credits"`
	IsAdmin          bool             `gorm:"not null;default:false" json:"is_admin"`
	IsPaidCustomer   bool             `gorm:"not null;default:false" json:"is_paid_customer"`
	SubscriptionTier SubscriptionTier `gorm:"not null;default:free" json:"subscription_tier"`
	TotalPurchased   int64            `gorm:"not null;default:0" json:"total_purchased"`
	TotalUsed        int64            `gorm:"not null;default:0" json:"total_used"`
	CreatedAt        time.Time        `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// Tier returns the effective tier, failing closed on values the current
// build does not recognize.
func (a *Account) Tier() SubscriptionTier {
	switch a.SubscriptionTier {
	case TierBasic, TierPro, TierStudio:
		if a.IsPaidCustomer {
			return a.SubscriptionTier
		}
		return TierFree
	case TierFree:
		return TierFree
	default:
		return TierFree
	}
}
