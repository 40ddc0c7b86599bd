package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service redeems promo codes. Marking the code used and crediting the
// balance happen in one store transaction, so a crash between the two can
// never burn a code without paying it out.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service) *Service {
	return &Service{db: db, ledger: ledgerSvc}
}

// AutoMigrate runs database migrations for promo tables
func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.PromoCode{})
}

// Redeem applies a promo code to the user's balance. Business rules:
// a code is single-use globally, expired codes are rejected, and a user may
// redeem at most one promo code ever (tracked through the ledger history).
func (s *Service) Redeem(ctx context.Context, userID, rawCode string) (*models.LedgerTransaction, error) {
	code := models.NormalizePromoCode(rawCode)
	if code == "" {
		return nil, models.NewValidationError("promo code is required", nil)
	}

	var transaction *models.LedgerTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var promo models.PromoCode
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).
			First(&promo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrPromoNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock promo code: %w", err)
		}

		now := time.Now()
		if promo.IsUsed {
			return models.ErrPromoAlreadyUsed
		}
		if promo.Expired(now) {
			return models.ErrPromoExpired
		}

		// One promo per user, ever.
		var priorRedemptions int64
		if err := tx.Model(&models.LedgerTransaction{}).
			Where("user_id = ? AND kind = ?", userID, string(models.CreditKindPromo)).
			Count(&priorRedemptions).Error; err != nil {
			return fmt.Errorf("failed to check redemption history: %w", err)
		}
		if priorRedemptions > 0 {
			return models.ErrPromoAlreadyRedeemed
		}

		if err := tx.Model(&promo).Updates(map[string]any{
			"is_used": true,
			"used_by": userID,
			"used_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to mark promo code used: %w", err)
		}

		transaction, err = s.ledger.CreditInTx(tx, models.CreditParams{
			UserID:      userID,
			Tokens:      promo.Tokens,
			LoraCredits: promo.LoraCredits,
			Kind:        models.CreditKindPromo,
			SourceRef:   promo.Code,
			Description: fmt.Sprintf("Promo code %s", promo.Code),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return transaction, nil
}

// Create registers a new promo code (admin surface).
func (s *Service) Create(ctx context.Context, promo *models.PromoCode) error {
	promo.Code = models.NormalizePromoCode(promo.Code)
	if promo.Code == "" {
		return models.NewValidationError("promo code is required", nil)
	}
	if promo.Tokens < 0 || promo.LoraCredits < 0 {
		return models.NewValidationError("promo amounts must be non-negative", nil)
	}
	if err := s.db.WithContext(ctx).Create(promo).Error; err != nil {
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}

// List returns all promo codes, newest first (admin surface).
func (s *Service) List(ctx context.Context) ([]models.PromoCode, error) {
	var promos []models.PromoCode
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&promos).Error; err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}
	return promos, nil
}
