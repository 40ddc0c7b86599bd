package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
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

const testIPNSecret = "ipn-test-secret"

func newTestService(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
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

	gateway := NewGatewayClient(models.GatewayConfig{
		BaseURL:   "http://gateway.test",
		APIKey:    "key",
		IPNSecret: testIPNSecret,
	}, nil)

	svc := NewService(db, ledgerSvc, gateway, notify.NewService(nil, nil))
	require.NoError(t, svc.AutoMigrate())

	return svc, ledgerSvc, db
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testIPNSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func seedOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              "order-1",
		UserID:          "user-1",
		PackageID:       1,
		PriceAmount:     9.99,
		PriceCurrency:   "usd",
		Tokens:          500,
		LoraCredits:     2,
		Status:          models.OrderStatusPending,
		ExternalOrderID: "ext-1",
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func webhookBody(status string, amount float64) []byte {
	return fmt.Appendf(nil,
		`{"payment_id":42,"invoice_id":"inv-1","order_id":"ext-1","payment_status":%q,"price_amount":%v,"price_currency":"usd"}`,
		status, amount)
}

func TestProcessWebhookRejectsInvalidSignature(t *testing.T) {
	svc, _, db := newTestService(t)
	seedOrder(t, db)

	body := webhookBody("finished", 9.99)

	_, err := svc.ProcessWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, models.ErrInvalidSignature)

	_, err = svc.ProcessWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, models.ErrInvalidSignature)

	// The order must not have moved.
	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", "order-1").Error)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestProcessWebhookSignatureCheckedBeforeLookup(t *testing.T) {
	svc, _, _ := newTestService(t)

	// No such order exists; a bad signature must win over the lookup.
	body := []byte(`{"order_id":"ghost","payment_status":"finished"}`)
	_, err := svc.ProcessWebhook(context.Background(), body, "bad")
	assert.ErrorIs(t, err, models.ErrInvalidSignature)
}

func TestProcessWebhookUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	body := []byte(`{"order_id":"ghost","payment_status":"finished","price_amount":9.99}`)
	_, err := svc.ProcessWebhook(context.Background(), body, sign(body))
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestProcessWebhookCreditsExactlyOnce(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	body := webhookBody("finished", 9.99)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Tokens)
	assert.Equal(t, int64(2), account.LoraCredits)

	// Redelivery of the exact same webhook: acknowledged, not re-credited.
	order, err = svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	account, err = ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Tokens)

	history, err := ledgerSvc.GetTransactionHistory(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProcessWebhookAmountMismatchNeverCredits(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	body := webhookBody("finished", 4.2)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAmountMismatch, order.Status)

	_, err = ledgerSvc.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)

	// amount_mismatch is terminal: a later delivery with the right amount
	// still does not credit.
	correct := webhookBody("finished", 9.99)
	order, err = svc.ProcessWebhook(ctx, correct, sign(correct))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAmountMismatch, order.Status)

	_, err = ledgerSvc.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestProcessWebhookToleratesFloatNoise(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	// Some gateways serialize amounts with float noise well below a cent;
	// that is still the paid price.
	body := webhookBody("finished", 9.9900000001)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)

	account, err := ledgerSvc.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.Tokens)
}

func TestProcessWebhookCentDifferenceStillMismatches(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	body := webhookBody("finished", 9.98)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAmountMismatch, order.Status)

	_, err = ledgerSvc.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestProcessWebhookFailedStatus(t *testing.T) {
	svc, ledgerSvc, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	body := webhookBody("failed", 9.99)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	assert.Equal(t, "failed", order.LastPaymentStatus)

	_, err = ledgerSvc.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestProcessWebhookIntermediateStatusKeepsPending(t *testing.T) {
	svc, _, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	body := webhookBody("confirming", 9.99)

	order, err := svc.ProcessWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "confirming", order.LastPaymentStatus)

	// The eventual success still completes and credits.
	success := webhookBody("finished", 9.99)
	order, err = svc.ProcessWebhook(ctx, success, sign(success))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
}

func TestProcessWebhookMalformedPayload(t *testing.T) {
	svc, _, _ := newTestService(t)

	body := []byte(`{not json`)
	_, err := svc.ProcessWebhook(context.Background(), body, sign(body))

	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)
}

func TestVerifySignatureExactBody(t *testing.T) {
	gateway := NewGatewayClient(models.GatewayConfig{
		BaseURL:   "http://gateway.test",
		APIKey:    "key",
		IPNSecret: testIPNSecret,
	}, nil)

	body := []byte(`{"order_id":"ext-1"}`)
	require.NoError(t, gateway.VerifySignature(body, sign(body)))

	// Any byte difference invalidates the signature.
	tampered := []byte(`{"order_id":"ext-2"}`)
	assert.ErrorIs(t, gateway.VerifySignature(tampered, sign(body)), models.ErrInvalidSignature)
}

func TestGetOrderScopedToOwner(t *testing.T) {
	svc, _, db := newTestService(t)
	seedOrder(t, db)
	ctx := context.Background()

	order, err := svc.GetOrder(ctx, "user-1", "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)

	_, err = svc.GetOrder(ctx, "someone-else", "order-1")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
