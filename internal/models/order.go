package models

import "time"

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusAmountMismatch OrderStatus = "amount_mismatch"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusAmountMismatch:
		return true
	}
	return false
}

// Order tracks one payment-gateway invoice from creation to a terminal state.
// Status moves monotonically toward a terminal state and "completed" is
// reached at most once; the transition to completed is what triggers the
// (idempotent) ledger credit.
type Order struct {
	ID                string      `gorm:"primaryKey" json:"id"`
	UserID            string      `gorm:"index;not null" json:"user_id"`
	PackageID         uint        `gorm:"index" json:"package_id"`
	PriceAmount       float64     `gorm:"not null" json:"price_amount"`
	PriceCurrency     string      `gorm:"not null" json:"price_currency"`
	Tokens            int64       `gorm:"not null" json:"tokens"`
	LoraCredits       int64       `gorm:"not null;default:0" json:"lora_credits"`
	Status            OrderStatus `gorm:"index;not null;default:pending" json:"status"`
	ExternalInvoiceID string      `json:"external_invoice_id,omitzero"`
	ExternalOrderID   string      `gorm:"index" json:"external_order_id,omitzero"`
	LastPaymentStatus string      `json:"last_payment_status,omitzero"`
	LastWebhookBody   string      `json:"-"`
	CreatedAt         time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// TokenPackage is a purchasable bundle of tokens. Stripe purchases reference
// the Stripe price id, gateway purchases the package id.
type TokenPackage struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitzero"`
	Tokens        int64     `gorm:"not null" json:"tokens"`
	LoraCredits   int64     `gorm:"not null;default:0" json:"lora_credits"`
	Price         float64   `gorm:"not null" json:"price"`
	Currency      string    `gorm:"not null;default:usd" json:"currency"`
	StripePriceID string    `gorm:"uniqueIndex" json:"stripe_price_id,omitzero"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
