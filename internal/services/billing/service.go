package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
)

// Service owns Order records: invoice creation at the gateway and webhook-
// driven completion. Completing an order is the only path that credits a
// purchase, and it does so through the ledger's idempotent credit.
type Service struct {
	db       *gorm.DB
	ledger   *ledger.Service
	gateway  *GatewayClient
	notifier *notify.Service
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, gateway *GatewayClient, notifier *notify.Service) *Service {
	return &Service{
		db:       db,
		ledger:   ledgerSvc,
		gateway:  gateway,
		notifier: notifier,
	}
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Order{})
}

// CreateOrder opens a pending order for a token package and registers it
// with the payment gateway. The hosted invoice URL is returned for the
// client to redirect to.
func (s *Service) CreateOrder(ctx context.Context, userID string, packageID uint) (*models.Order, string, error) {
	if s.gateway == nil {
		return nil, "", models.NewProviderError("payment_gateway", "payment gateway not configured", nil)
	}

	var pkg models.TokenPackage
	if err := s.db.WithContext(ctx).First(&pkg, "id = ?", packageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", models.NewValidationError(fmt.Sprintf("unknown token package %d", packageID), nil)
		}
		return nil, "", fmt.Errorf("load package %d: %w", packageID, err)
	}

	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		PackageID:     pkg.ID,
		PriceAmount:   pkg.Price,
		PriceCurrency: pkg.Currency,
		Tokens:        pkg.Tokens,
		LoraCredits:   pkg.LoraCredits,
		Status:        models.OrderStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, "", fmt.Errorf("create order: %w", err)
	}

	invoice, err := s.gateway.CreateInvoice(ctx, order)
	if err != nil {
		// The pending order stays; the user can retry and the gateway
		// invoice is what actually moves money.
		return nil, "", err
	}

	order.ExternalInvoiceID = invoice.InvoiceID
	order.ExternalOrderID = invoice.ExternalOrderID
	if err := s.db.WithContext(ctx).Save(order).Error; err != nil {
		return nil, "", fmt.Errorf("store invoice refs for order %s: %w", order.ID, err)
	}

	fiberlog.Infof("billing: order %s created for user %s, invoice %s", order.ID, userID, invoice.InvoiceID)
	return order, invoice.InvoiceURL, nil
}

// GetOrder loads one order scoped to its owner.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, "id = ? AND user_id = ?", orderID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return &order, nil
}

// gatewayWebhook is the IPN payload. Only parsed after the signature over
// the raw body has been verified.
type gatewayWebhook struct {
	PaymentID     json.Number `json:"payment_id"`
	InvoiceID     string      `json:"invoice_id"`
	OrderID       string      `json:"order_id"`
	PaymentStatus string      `json:"payment_status"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
}

// ProcessWebhook handles one gateway IPN delivery:
//
//  1. signature check over the raw body, before anything is parsed
//  2. external order id maps to a stored Order
//  3. the status transition is always recorded on the order
//  4. only the success sentinel credits, exactly once, and a paid amount
//     that differs from the order's price parks it in amount_mismatch
//     without ever crediting
//
// Any returned nil means the delivery should be acknowledged.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signature string) (*models.Order, error) {
	if s.gateway == nil {
		return nil, models.NewProviderError("payment_gateway", "payment gateway not configured", nil)
	}
	if err := s.gateway.VerifySignature(rawBody, signature); err != nil {
		return nil, err
	}

	var payload gatewayWebhook
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, models.NewValidationError("malformed webhook payload", err)
	}
	if payload.OrderID == "" {
		return nil, models.NewValidationError("webhook payload missing order_id", nil)
	}

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "external_order_id = ?", payload.OrderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		order.LastPaymentStatus = payload.PaymentStatus
		order.LastWebhookBody = string(rawBody)

		if order.Status.IsTerminal() {
			// Duplicate or late delivery; record it and stop.
			return tx.Save(&order).Error
		}

		if payload.PaymentStatus != paymentStatusSuccess {
			if payload.PaymentStatus == "failed" || payload.PaymentStatus == "expired" {
				order.Status = models.OrderStatusFailed
			}
			return tx.Save(&order).Error
		}

		if !amountsMatch(payload.PriceAmount, order.PriceAmount) {
			order.Status = models.OrderStatusAmountMismatch
			fiberlog.Warnf("billing: order %s amount mismatch: webhook %.2f, order %.2f",
				order.ID, payload.PriceAmount, order.PriceAmount)
			return tx.Save(&order).Error
		}

		_, err = s.ledger.CreditInTx(tx, models.CreditParams{
			UserID:      order.UserID,
			Tokens:      order.Tokens,
			LoraCredits: order.LoraCredits,
			Kind:        models.CreditKindPurchase,
			SourceRef:   order.ID,
			Description: fmt.Sprintf("token purchase, order %s", order.ID),
			Metadata:    fmt.Sprintf(`{"invoice_id":%q,"payment_id":%q}`, order.ExternalInvoiceID, payload.PaymentID.String()),
		})
		if err != nil {
			return fmt.Errorf("credit order %s: %w", order.ID, err)
		}

		order.Status = models.OrderStatusCompleted
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		s.notifier.Event(ctx, notify.Event{
			Type:   notify.EventOrderCompleted,
			UserID: order.UserID,
			Data:   map[string]any{"order_id": order.ID, "tokens": order.Tokens},
		})
	case models.OrderStatusAmountMismatch:
		s.notifier.Alert("order %s for user %s parked in amount_mismatch (webhook %.2f vs %.2f %s)",
			order.ID, order.UserID, payload.PriceAmount, order.PriceAmount, order.PriceCurrency)
	}

	return &order, nil
}

// amountsMatch compares prices in integer minor units, so a gateway that
// serializes 9.99 as 9.9900000001 still matches an order priced 9.99.
func amountsMatch(a, b float64) bool {
	return math.Round(a*100) == math.Round(b*100)
}
