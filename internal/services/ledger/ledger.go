package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	maxTxRetries   = 3
	retryBaseDelay = 25 * time.Millisecond
)

// Service is the ledger: per-user balances plus the append-only transaction
// log. Every mutation runs as one store transaction (read, validate, write,
// append audit record) so concurrent requests on the same account serialize
// instead of interleaving.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// AutoMigrate runs database migrations for ledger tables
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Account{},
		&models.LedgerTransaction{},
		&models.TokenPackage{},
	)
}

// GetAccount retrieves the account record for a user.
func (s *Service) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account

	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// EnsureAccount returns the account for userID, creating a zero-balance
// record on first sight. Used at session start; billing paths never create
// accounts implicitly on the debit side.
func (s *Service) EnsureAccount(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}

	created := models.Account{
		UserID:           userID,
		SubscriptionTier: models.TierFree,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&created).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return s.GetAccount(ctx, userID)
}

// Debit atomically decrements a user's balances and appends the audit
// record. The read-check-write runs under a row lock so two concurrent
// debits can never both succeed when only one is covered by the balance.
// A supplied SourceRef doubles as a per-user idempotency key: a retry with
// the same ref returns the first debit's transaction without charging again.
// Fails with AccountNotFound for unknown users (a billing operation never
// materializes an account) and with InsufficientBalanceError when the
// balance does not cover the amount; neither failure is ever retried.
func (s *Service) Debit(ctx context.Context, params models.DebitParams) (*models.LedgerTransaction, error) {
	if params.Tokens < 0 || params.LoraCredits < 0 {
		return nil, models.NewValidationError("debit amounts must be non-negative", nil)
	}

	var transaction models.LedgerTransaction

	op := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if params.SourceRef != "" {
				var existing models.LedgerTransaction
				err := tx.Where("user_id = ? AND kind = ? AND source_ref = ?",
					params.UserID, string(models.LedgerTransactionDebit), params.SourceRef).
					First(&existing).Error
				if err == nil {
					transaction = existing
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to check debit idempotency: %w", err)
				}
			}

			var account models.Account
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", params.UserID).
				First(&account).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrAccountNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to lock account: %w", err)
			}

			if account.Tokens < params.Tokens {
				return &models.InsufficientBalanceError{
					Required:  params.Tokens,
					Available: account.Tokens,
				}
			}
			if account.LoraCredits < params.LoraCredits {
				return &models.InsufficientBalanceError{
					Required:  params.LoraCredits,
					Available: account.LoraCredits,
				}
			}

			newTokens := account.Tokens - params.Tokens
			newLora := account.LoraCredits - params.LoraCredits

			if err := tx.Model(&account).Updates(map[string]any{
				"tokens":       newTokens,
				"lora_credits": newLora,
				"total_used":   account.TotalUsed + params.Tokens,
			}).Error; err != nil {
				return fmt.Errorf("failed to update balance: %w", err)
			}

			transaction = models.LedgerTransaction{
				UserID:           params.UserID,
				Type:             models.LedgerTransactionDebit,
				Tokens:           -params.Tokens,
				LoraCredits:      -params.LoraCredits,
				TokensAfter:      newTokens,
				LoraCreditsAfter: newLora,
				Kind:             string(models.LedgerTransactionDebit),
				SourceRef:        sourceRefOrNew(params.SourceRef),
				Description:      params.Description,
				Metadata:         params.Metadata,
			}
			if err := tx.Create(&transaction).Error; err != nil {
				return fmt.Errorf("failed to create ledger transaction: %w", err)
			}

			return nil
		})
	}

	if err := s.withRetry(ctx, op); err != nil {
		return nil, err
	}
	return &transaction, nil
}

// Credit atomically increments a user's balances, idempotently keyed on
// (kind, source_ref): if a transaction for that pair already exists the
// stored result is returned and nothing is mutated, so at-least-once webhook
// delivery yields at-most-once credits. Unlike Debit, a credit for an
// unknown user materializes the account, since a purchase or promo may be
// the first server-side balance write for a user.
func (s *Service) Credit(ctx context.Context, params models.CreditParams) (*models.LedgerTransaction, error) {
	if params.Tokens < 0 || params.LoraCredits < 0 {
		return nil, models.NewValidationError("credit amounts must be non-negative", nil)
	}
	if params.Kind == "" || params.SourceRef == "" {
		return nil, models.NewValidationError("credit requires an idempotency key (kind, source_ref)", nil)
	}

	var transaction *models.LedgerTransaction

	op := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			transaction, err = s.CreditInTx(tx, params)
			return err
		})
	}

	if err := s.withRetry(ctx, op); err != nil {
		return nil, err
	}
	return transaction, nil
}

// CreditInTx is the credit coordinator body for callers that already hold a
// store transaction (promo redemption marks the code used in the same unit
// of work). The balance increment and the idempotency-marking write commit
// or roll back together.
func (s *Service) CreditInTx(tx *gorm.DB, params models.CreditParams) (*models.LedgerTransaction, error) {
	// Idempotency guard: one ledger row per causally-distinct credit.
	var existing models.LedgerTransaction
	err := tx.Where("user_id = ? AND kind = ? AND source_ref = ?",
		params.UserID, string(params.Kind), params.SourceRef).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check credit idempotency: %w", err)
	}

	var account models.Account
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", params.UserID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = models.Account{
			UserID:           params.UserID,
			SubscriptionTier: models.TierFree,
		}
		if err := tx.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	newTokens := account.Tokens + params.Tokens
	newLora := account.LoraCredits + params.LoraCredits

	updates := map[string]any{
		"tokens":       newTokens,
		"lora_credits": newLora,
	}
	if params.Kind == models.CreditKindPurchase {
		updates["total_purchased"] = account.TotalPurchased + params.Tokens
		updates["is_paid_customer"] = true
	}

	if err := tx.Model(&account).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	transaction := models.LedgerTransaction{
		UserID:           params.UserID,
		Type:             transactionTypeForKind(params.Kind),
		Tokens:           params.Tokens,
		LoraCredits:      params.LoraCredits,
		TokensAfter:      newTokens,
		LoraCreditsAfter: newLora,
		Kind:             string(params.Kind),
		SourceRef:        params.SourceRef,
		Description:      params.Description,
		Metadata:         params.Metadata,
	}
	if err := tx.Create(&transaction).Error; err != nil {
		return nil, fmt.Errorf("failed to create ledger transaction: %w", err)
	}

	return &transaction, nil
}

// HasCreditFor reports whether a credit keyed (kind, sourceRef) was already
// applied for the user.
func (s *Service) HasCreditFor(ctx context.Context, userID string, kind models.CreditKind, sourceRef string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.LedgerTransaction{}).
		Where("user_id = ? AND kind = ? AND source_ref = ?", userID, string(kind), sourceRef).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check credit history: %w", err)
	}
	return count > 0, nil
}

// HasAnyCreditOfKind reports whether the user has any prior credit of the
// given kind. Backs the single-promo-per-user business rule.
func (s *Service) HasAnyCreditOfKind(ctx context.Context, userID string, kind models.CreditKind) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.LedgerTransaction{}).
		Where("user_id = ? AND kind = ?", userID, string(kind)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check credit history: %w", err)
	}
	return count > 0, nil
}

// GetTransactionHistory retrieves the audit trail for one user, newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, userID string, limit, offset int) ([]models.LedgerTransaction, error) {
	var transactions []models.LedgerTransaction

	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}

	return transactions, nil
}

// GetTokenPackages retrieves all purchasable token packages.
func (s *Service) GetTokenPackages(ctx context.Context) ([]models.TokenPackage, error) {
	var packages []models.TokenPackage

	if err := s.db.WithContext(ctx).Find(&packages).Error; err != nil {
		return nil, fmt.Errorf("failed to get token packages: %w", err)
	}

	return packages, nil
}

// CreateTokenPackage registers a purchasable token bundle. Admin-only.
func (s *Service) CreateTokenPackage(ctx context.Context, pkg *models.TokenPackage) error {
	if pkg.Tokens <= 0 {
		return models.NewValidationError("package must grant a positive token amount", nil)
	}
	if pkg.Price <= 0 {
		return models.NewValidationError("package price must be positive", nil)
	}
	if pkg.Currency == "" {
		pkg.Currency = "usd"
	}

	if err := s.db.WithContext(ctx).Create(pkg).Error; err != nil {
		return fmt.Errorf("failed to create token package: %w", err)
	}
	return nil
}

// SetSubscription updates an account's tier and paid-customer flag.
// Balances are untouched; tiers gate features, not tokens.
func (s *Service) SetSubscription(ctx context.Context, userID string, tier models.SubscriptionTier, paid bool) error {
	result := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"subscription_tier": tier,
			"is_paid_customer":  paid,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update subscription for %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes the account and its transaction log. Only full
// account deletion goes through here.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.LedgerTransaction{}).Error; err != nil {
			return fmt.Errorf("failed to delete ledger transactions: %w", err)
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Account{}).Error; err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		return nil
	})
}

// withRetry retries transient store contention a bounded number of times
// with backoff. Business failures pass through untouched on the first
// attempt.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = op()
		if err == nil || !isTransientTxError(err) {
			return err
		}

		delay := retryBaseDelay << attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isTransientTxError(err error) bool {
	if err == nil {
		return false
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return false
	}
	if _, ok := models.IsInsufficientBalance(err); ok {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "database is locked")
}

func transactionTypeForKind(kind models.CreditKind) models.LedgerTransactionType {
	switch kind {
	case models.CreditKindPurchase:
		return models.LedgerTransactionPurchase
	case models.CreditKindPromo:
		return models.LedgerTransactionPromo
	case models.CreditKindRefund:
		return models.LedgerTransactionRefund
	default:
		return models.LedgerTransactionCredit
	}
}

func sourceRefOrNew(ref string) string {
	if ref != "" {
		return ref
	}
	return uuid.New().String()
}
