package promo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ledgerSvc := ledger.NewService(db)
	require.NoError(t, ledgerSvc.AutoMigrate())

	svc := NewService(db, ledgerSvc)
	require.NoError(t, svc.AutoMigrate())

	return svc, ledgerSvc
}

func TestRedeemCreditsBalance(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &models.PromoCode{
		Code:        "WELCOME50",
		Tokens:      50,
		LoraCredits: 1,
	}))

	tx, err := svc.Redeem(ctx, "user-1", "WELCOME50")
	require.NoError(t, err)
	assert.Equal(t, models.LedgerTransactionPromo, tx.Type)
	assert.Equal(t, int64(50), tx.Tokens)

	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Tokens)
	assert.Equal(t, int64(1), account.LoraCredits)
}

func TestRedeemNormalizesCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &models.PromoCode{Code: "artforge50", Tokens: 50}))

	_, err := svc.Redeem(ctx, "user-1", "  ArtForge50 ")
	require.NoError(t, err)
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Redeem(context.Background(), "user-1", "NOPE")
	assert.ErrorIs(t, err, models.ErrPromoNotFound)
}

func TestRedeemSingleUseGlobally(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &models.PromoCode{Code: "ONCE", Tokens: 50}))

	_, err := svc.Redeem(ctx, "user-1", "ONCE")
	require.NoError(t, err)

	// A different user hitting the same code is rejected and not credited.
	_, err = svc.Redeem(ctx, "user-2", "ONCE")
	assert.ErrorIs(t, err, models.ErrPromoAlreadyUsed)

	_, err = ledgerSvc.GetAccount(ctx, "user-2")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestRedeemOnePromoPerUser(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &models.PromoCode{Code: "FIRST", Tokens: 50}))
	require.NoError(t, svc.Create(ctx, &models.PromoCode{Code: "SECOND", Tokens: 50}))

	_, err := svc.Redeem(ctx, "user-1", "FIRST")
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, "user-1", "SECOND")
	assert.ErrorIs(t, err, models.ErrPromoAlreadyRedeemed)

	// The rejected redemption must not burn the second code.
	promos, err := svc.List(ctx)
	require.NoError(t, err)
	for _, p := range promos {
		if p.Code == "SECOND" {
			assert.False(t, p.IsUsed)
		}
	}

	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Tokens)
}

func TestRedeemExpiredCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, svc.Create(ctx, &models.PromoCode{
		Code:      "OLD",
		Tokens:    50,
		ExpiresAt: &expired,
	}))

	_, err := svc.Redeem(ctx, "user-1", "OLD")
	assert.ErrorIs(t, err, models.ErrPromoExpired)
}

func TestRedeemMarksCodeUsed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, &models.PromoCode{Code: "MARKED", Tokens: 50}))

	_, err := svc.Redeem(ctx, "user-1", "MARKED")
	require.NoError(t, err)

	promos, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.True(t, promos[0].IsUsed)
	assert.Equal(t, "user-1", promos[0].UsedBy)
	assert.NotNil(t, promos[0].UsedAt)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Create(ctx, &models.PromoCode{Code: "   ", Tokens: 50})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)

	err = svc.Create(ctx, &models.PromoCode{Code: "NEG", Tokens: -1})
	require.ErrorAs(t, err, &appErr)
}
