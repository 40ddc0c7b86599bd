package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
)

// StripeService is the fiat purchase path: hosted checkout plus webhook.
// Credits are keyed on the checkout session id, so Stripe's at-least-once
// delivery cannot double-credit.
type StripeService struct {
	secretKey     string
	webhookSecret string
	db            *gorm.DB
	ledger        *ledger.Service
}

type CreateCheckoutParams struct {
	UserID        string
	PackageID     uint
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

func NewStripeService(cfg models.StripeConfig, db *gorm.DB, ledgerSvc *ledger.Service) *StripeService {
	stripe.Key = cfg.SecretKey

	return &StripeService{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		db:            db,
		ledger:        ledgerSvc,
	}
}

// CreateCheckoutSession opens a Stripe checkout for one token package.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, params CreateCheckoutParams) (*stripe.CheckoutSession, error) {
	var pkg models.TokenPackage
	if err := s.db.WithContext(ctx).First(&pkg, "id = ?", params.PackageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewValidationError(fmt.Sprintf("unknown token package %d", params.PackageID), nil)
		}
		return nil, fmt.Errorf("load package %d: %w", params.PackageID, err)
	}
	if pkg.StripePriceID == "" {
		return nil, models.NewValidationError(fmt.Sprintf("package %d has no stripe price", params.PackageID), nil)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(pkg.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			"user_id":      params.UserID,
			"package_id":   strconv.FormatUint(uint64(pkg.ID), 10),
			"tokens":       strconv.FormatInt(pkg.Tokens, 10),
			"lora_credits": strconv.FormatInt(pkg.LoraCredits, 10),
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess, nil
}

// HandleWebhook verifies and processes one Stripe event.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return models.ErrInvalidSignature
	}

	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutSessionCompleted(ctx, event)
	default:
		return nil
	}
}

func (s *StripeService) handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID := sess.Metadata["user_id"]
	tokens, _ := strconv.ParseInt(sess.Metadata["tokens"], 10, 64)
	loraCredits, _ := strconv.ParseInt(sess.Metadata["lora_credits"], 10, 64)

	if userID == "" || tokens <= 0 {
		return fmt.Errorf("invalid checkout session metadata for session %s", sess.ID)
	}

	metadata := map[string]any{
		"stripe_session_id": sess.ID,
		"amount_paid":       float64(sess.AmountTotal) / 100.0,
		"package_id":        sess.Metadata["package_id"],
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.ledger.Credit(ctx, models.CreditParams{
		UserID:      userID,
		Tokens:      tokens,
		LoraCredits: loraCredits,
		Kind:        models.CreditKindPurchase,
		SourceRef:   sess.ID,
		Description: "token purchase via Stripe",
		Metadata:    string(metadataJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to credit session %s: %w", sess.ID, err)
	}

	fiberlog.Infof("billing: stripe session %s credited %d tokens to user %s", sess.ID, tokens, userID)
	return nil
}
