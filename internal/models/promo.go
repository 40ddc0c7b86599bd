package models

import (
	"strings"
	"time"
)

// PromoCode is a single-use code granting tokens. Codes are stored
// upper-cased; once IsUsed flips to true it never reverts.
type PromoCode struct {
	Code        string     `gorm:"primaryKey" json:"code"`
	Tokens      int64      `gorm:"not null" json:"tokens"`
	LoraCredits int64      `gorm:"not null;default:0" json:"lora_credits"`
	ExpiresAt   *time.Time `json:"expires_at,omitzero"`
	IsUsed      bool       `gorm:"not null;default:false" json:"is_used"`
	UsedBy      string     `gorm:"index" json:"used_by,omitzero"`
	UsedAt      *time.Time `json:"used_at,omitzero"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NormalizePromoCode canonicalizes user input before lookup.
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the code is past its expiration, if it has one.
func (p *PromoCode) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
