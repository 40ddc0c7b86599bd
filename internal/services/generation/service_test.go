package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
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

	// Validation, account and entitlement checks all run before the compute
	// client is touched, so these tests never need a provider.
	svc := NewService(ledgerSvc, ledger.NewPricingTable(nil), nil, nil, notify.NewService(nil, nil))

	return svc, ledgerSvc
}

func validSpec() models.JobSpec {
	return models.JobSpec{
		UserID: "user-1",
		Model:  "flux-base",
		Prompt: "a watercolor fox",
	}
}

func TestQuoteAppliesDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	// Defaults are 1024x1024 with one output; only base generation matches.
	tokens, loraCredits := svc.Quote(validSpec())
	assert.Equal(t, int64(10), tokens)
	assert.Equal(t, int64(0), loraCredits)
}

func TestGenerateRejectsInvalidSpec(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]models.JobSpec{
		"missing prompt": {UserID: "user-1", Model: "flux-base"},
		"missing model":  {UserID: "user-1", Prompt: "a fox"},
		"prompt too long": {
			UserID: "user-1", Model: "flux-base",
			Prompt: strings.Repeat("x", 4001),
		},
		"too many outputs": {
			UserID: "user-1", Model: "flux-base", Prompt: "a fox", NumOutputs: 5,
		},
		"oversized dimensions": {
			UserID: "user-1", Model: "flux-base", Prompt: "a fox", Width: 4096, Height: 4096,
		},
	}

	for name, spec := range cases {
		_, err := svc.Generate(ctx, "req-1", spec)
		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr, "case %s", name)
		assert.Equal(t, models.ErrorTypeValidation, appErr.Type, "case %s", name)
	}
}

func TestGenerateUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Generate(context.Background(), "req-1", validSpec())
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestGenerateEnforcesEntitlementBeforeCharge(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	_, err := ledgerSvc.Credit(ctx, models.CreditParams{
		UserID: "user-1", Tokens: 1000, Kind: models.CreditKindAdmin, SourceRef: "grant-1",
	})
	require.NoError(t, err)

	spec := validSpec()
	spec.Model = "flux-pro" // advanced model, not in the free tier

	_, err = svc.Generate(ctx, "req-1", spec)
	assert.ErrorIs(t, err, models.ErrFeatureNotEntitled)

	// The rejected request must not have charged anything.
	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Tokens)
}

func TestGenerateInsufficientBalance(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	ctx := context.Background()

	_, err := ledgerSvc.Credit(ctx, models.CreditParams{
		UserID: "user-1", Tokens: 5, Kind: models.CreditKindAdmin, SourceRef: "grant-1",
	})
	require.NoError(t, err)

	_, err = svc.Generate(ctx, "req-1", validSpec())
	_, ok := models.IsInsufficientBalance(err)
	assert.True(t, ok, "expected insufficient balance, got %v", err)
}
