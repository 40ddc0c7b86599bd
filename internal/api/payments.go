package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/billing"
)

// paymentSignatureHeader carries the gateway's HMAC over the raw IPN body.
const paymentSignatureHeader = "X-Payment-Signature"

type PaymentsHandler struct {
	billingService *billing.Service
}

func NewPaymentsHandler(billingService *billing.Service) *PaymentsHandler {
	return &PaymentsHandler{
		billingService: billingService,
	}
}

type CreateOrderRequest struct {
	PackageID uint `json:"package_id"`
}

type CreateOrderResponse struct {
	Order      *models.Order `json:"order"`
	InvoiceURL string        `json:"invoice_url"`
}

// CreateOrder opens a gateway invoice for a token package.
func (h *PaymentsHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PackageID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "package_id is required",
		})
	}

	order, invoiceURL, err := h.billingService.CreateOrder(c.Context(), userID, req.PackageID)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateOrderResponse{
		Order:      order,
		InvoiceURL: invoiceURL,
	})
}

// GetOrder returns one order, scoped to its owner.
func (h *PaymentsHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	order, err := h.billingService.GetOrder(c.Context(), userID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(order)
}

// HandlePaymentWebhook processes one gateway IPN. The signature over the
// exact raw body is checked first; invalid signatures are rejected before
// any order lookup. Authenticated deliveries are always acknowledged.
func (h *PaymentsHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := c.Body()
	signature := c.Get(paymentSignatureHeader)

	order, err := h.billingService.ProcessWebhook(c.Context(), rawBody, signature)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"received": true,
		"order_id": order.ID,
		"status":   order.Status,
	})
}
