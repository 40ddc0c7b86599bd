package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/billing"
)

type StripeHandler struct {
	stripeService *billing.StripeService
}

func NewStripeHandler(stripeService *billing.StripeService) *StripeHandler {
	return &StripeHandler{
		stripeService: stripeService,
	}
}

type CreateCheckoutSessionRequest struct {
	PackageID     uint   `json:"package_id"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type CreateCheckoutSessionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession opens a Stripe checkout for a token package.
func (h *StripeHandler) CreateCheckoutSession(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	var req CreateCheckoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PackageID == 0 || req.SuccessURL == "" || req.CancelURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "package_id, success_url and cancel_url are required",
		})
	}

	sess, err := h.stripeService.CreateCheckoutSession(c.Context(), billing.CreateCheckoutParams{
		UserID:        userID,
		PackageID:     req.PackageID,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(CreateCheckoutSessionResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
	})
}

// HandleStripeWebhook verifies and applies one Stripe event.
func (h *StripeHandler) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	if err := h.stripeService.HandleWebhook(c.Context(), payload, signature); err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"received": true})
}
