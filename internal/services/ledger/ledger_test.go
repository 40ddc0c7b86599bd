package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/artforge-ai/artforge-api/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc := NewService(newTestDB(t))
	require.NoError(t, svc.AutoMigrate())
	return svc
}

func TestEnsureAccountIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Tokens)
	assert.Equal(t, models.TierFree, first.SubscriptionTier)

	second, err := svc.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestDebitUnknownAccount(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Debit(context.Background(), models.DebitParams{
		UserID: "ghost",
		Tokens: 10,
	})
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestDebitInsufficientBalance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "user-1",
		Tokens:    50,
		Kind:      models.CreditKindAdmin,
		SourceRef: "grant-1",
	})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, models.DebitParams{
		UserID:    "user-1",
		Tokens:    100,
		SourceRef: "req-1",
	})

	ibe, ok := models.IsInsufficientBalance(err)
	require.True(t, ok, "expected insufficient balance, got %v", err)
	assert.Equal(t, int64(100), ibe.Required)
	assert.Equal(t, int64(50), ibe.Available)

	// The failed debit must not touch the balance or the audit trail.
	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Tokens)

	history, err := svc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDebitRecordsAuditTrail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "user-1",
		Tokens:    100,
		Kind:      models.CreditKindAdmin,
		SourceRef: "grant-1",
	})
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, models.DebitParams{
		UserID:    "user-1",
		Tokens:    30,
		SourceRef: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LedgerTransactionDebit, tx.Type)
	assert.Equal(t, int64(-30), tx.Tokens)
	assert.Equal(t, int64(70), tx.TokensAfter)
	assert.Equal(t, "req-1", tx.SourceRef)

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), account.Tokens)
	assert.Equal(t, int64(30), account.TotalUsed)
}

func TestDebitRejectsNegativeAmounts(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Debit(context.Background(), models.DebitParams{
		UserID: "user-1",
		Tokens: -5,
	})

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)
}

func TestDebitSameSourceRefAcrossUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-2"} {
		_, err := svc.Credit(ctx, models.CreditParams{
			UserID:    user,
			Tokens:    100,
			Kind:      models.CreditKindAdmin,
			SourceRef: "grant-" + user,
		})
		require.NoError(t, err)
	}

	// Source refs come from client-supplied request ids; one user's choice
	// of id must never block another user's debit.
	for _, user := range []string{"user-1", "user-2"} {
		_, err := svc.Debit(ctx, models.DebitParams{
			UserID:    user,
			Tokens:    30,
			SourceRef: "shared-req-id",
		})
		require.NoError(t, err, "debit for %s", user)

		account, err := svc.GetAccount(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, int64(70), account.Tokens)
	}
}

func TestDebitIdempotentOnSourceRef(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "user-1",
		Tokens:    100,
		Kind:      models.CreditKindAdmin,
		SourceRef: "grant-1",
	})
	require.NoError(t, err)

	first, err := svc.Debit(ctx, models.DebitParams{
		UserID:    "user-1",
		Tokens:    30,
		SourceRef: "req-1",
	})
	require.NoError(t, err)

	second, err := svc.Debit(ctx, models.DebitParams{
		UserID:    "user-1",
		Tokens:    30,
		SourceRef: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), account.Tokens)

	history, err := svc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCreditIdempotentOnKindAndSourceRef(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	params := models.CreditParams{
		UserID:    "user-1",
		Tokens:    500,
		Kind:      models.CreditKindPurchase,
		SourceRef: "order-1",
	}

	first, err := svc.Credit(ctx, params)
	require.NoError(t, err)

	// Duplicate webhook delivery: same (kind, source_ref) pair.
	second, err := svc.Credit(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Tokens)

	history, err := svc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCreditDistinctSourceRefsAccumulate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := range 3 {
		_, err := svc.Credit(ctx, models.CreditParams{
			UserID:    "user-1",
			Tokens:    100,
			Kind:      models.CreditKindPurchase,
			SourceRef: fmt.Sprintf("order-%d", i),
		})
		require.NoError(t, err)
	}

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), account.Tokens)
}

func TestCreditRequiresIdempotencyKey(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Credit(context.Background(), models.CreditParams{
		UserID: "user-1",
		Tokens: 10,
		Kind:   models.CreditKindAdmin,
	})

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)
}

func TestCreditMaterializesAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "new-user",
		Tokens:    25,
		Kind:      models.CreditKindSignup,
		SourceRef: "new-user",
	})
	require.NoError(t, err)

	account, err := svc.GetAccount(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, int64(25), account.Tokens)
}

func TestPurchaseCreditMarksPaidCustomer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "user-1",
		Tokens:    500,
		Kind:      models.CreditKindPurchase,
		SourceRef: "order-1",
	})
	require.NoError(t, err)

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, account.IsPaidCustomer)
	assert.Equal(t, int64(500), account.TotalPurchased)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID:    "user-1",
		Tokens:    100,
		Kind:      models.CreditKindAdmin,
		SourceRef: "grant-1",
	})
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, models.DebitParams{
				UserID:    "user-1",
				Tokens:    30,
				SourceRef: fmt.Sprintf("req-%d", i),
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		_, ok := models.IsInsufficientBalance(err)
		require.True(t, ok, "unexpected debit error: %v", err)
	}

	// 100 tokens cover exactly three 30-token debits.
	assert.Equal(t, 3, succeeded)

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), account.Tokens)
	assert.GreaterOrEqual(t, account.Tokens, int64(0))
}

func TestTransactionHistoryNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID: "user-1", Tokens: 100, Kind: models.CreditKindAdmin, SourceRef: "grant-1",
	})
	require.NoError(t, err)
	_, err = svc.Debit(ctx, models.DebitParams{UserID: "user-1", Tokens: 10, SourceRef: "req-1"})
	require.NoError(t, err)

	history, err := svc.GetTransactionHistory(ctx, "user-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.LedgerTransactionDebit, history[0].Type)
}

func TestSetSubscription(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.SetSubscription(ctx, "ghost", models.TierPro, true)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	_, err = svc.EnsureAccount(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.SetSubscription(ctx, "user-1", models.TierPro, true))

	account, err := svc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, account.Tier())
}

func TestDeleteAccountRemovesHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, models.CreditParams{
		UserID: "user-1", Tokens: 100, Kind: models.CreditKindAdmin, SourceRef: "grant-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx, "user-1"))

	_, err = svc.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	history, err := svc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateTokenPackageValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.CreateTokenPackage(ctx, &models.TokenPackage{Name: "empty", Price: 9.99})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)

	pkg := &models.TokenPackage{Name: "starter", Tokens: 500, Price: 9.99}
	require.NoError(t, svc.CreateTokenPackage(ctx, pkg))
	assert.Equal(t, "usd", pkg.Currency)

	packages, err := svc.GetTokenPackages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 1)
}
