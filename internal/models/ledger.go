package models

import "time"

type LedgerTransactionType string

const (
	LedgerTransactionDebit    LedgerTransactionType = "debit"
	LedgerTransactionCredit   LedgerTransactionType = "credit"
	LedgerTransactionPurchase LedgerTransactionType = "purchase"
	LedgerTransactionPromo    LedgerTransactionType = "promo"
	LedgerTransactionRefund   LedgerTransactionType = "refund"
)

// CreditKind is half of the idempotency key for credit operations; the other
// half is the source reference (order id, promo code, job id, ...).
type CreditKind string

const (
	CreditKindPurchase CreditKind = "purchase"
	CreditKindPromo    CreditKind = "promo"
	CreditKindRefund   CreditKind = "refund"
	CreditKindSignup   CreditKind = "signup"
	CreditKindAdmin    CreditKind = "admin_grant"
)

// LedgerTransaction is the append-only audit record: exactly one row per
// causally-distinct balance mutation. The (user_id, kind, source_ref) unique
// index is what makes externally-triggered credits at-most-once under
// redelivery; scoping it by user keeps one caller's source refs from
// colliding with another's.
type LedgerTransaction struct {
	ID               uint                  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string                `gorm:"uniqueIndex:idx_ledger_source,priority:1;not null" json:"user_id"`
	Type             LedgerTransactionType `gorm:"index;not null" json:"type"`
	Tokens           int64                 `json:"tokens"`
	LoraCredits      int64                 `json:"lora_credits"`
	TokensAfter      int64                 `json:"tokens_after"`
	LoraCreditsAfter int64                 `json:"lora_credits_after"`
	Kind             string                `gorm:"uniqueIndex:idx_ledger_source,priority:2" json:"kind,omitzero"`
	SourceRef        string                `gorm:"uniqueIndex:idx_ledger_source,priority:3" json:"source_ref,omitzero"`
	Description      string                `json:"description,omitzero"`
	Metadata         string                `json:"metadata,omitzero"`
	CreatedAt        time.Time             `gorm:"autoCreateTime;index" json:"created_at"`
}

// DebitParams describes one balance decrement. SourceRef ties the debit to
// the request or job it pays for and, when supplied, makes the debit
// idempotent for that user: a retry with the same ref returns the original
// transaction.
type DebitParams struct {
	UserID      string
	Tokens      int64
	LoraCredits int64
	SourceRef   string
	Description string
	Metadata    string
}

// CreditParams describes one balance increment. (Kind, SourceRef) is the
// idempotency key; a second credit with the same pair is a no-op.
type CreditParams struct {
	UserID      string
	Tokens      int64
	LoraCredits int64
	Kind        CreditKind
	SourceRef   string
	Description string
	Metadata    string
}
