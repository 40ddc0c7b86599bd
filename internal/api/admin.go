package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/promo"
)

// AdminHandler exposes the is_admin-gated operations: manual credit grants,
// promo code management, token packages and subscription changes.
type AdminHandler struct {
	ledgerService *ledger.Service
	promoService  *promo.Service
}

func NewAdminHandler(ledgerService *ledger.Service, promoService *promo.Service) *AdminHandler {
	return &AdminHandler{
		ledgerService: ledgerService,
		promoService:  promoService,
	}
}

type GrantCreditsRequest struct {
	UserID      string `json:"user_id"`
	Tokens      int64  `json:"tokens"`
	LoraCredits int64  `json:"lora_credits,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// GrantCredits credits an account out-of-band. Each grant gets a fresh
// source reference, so repeated grants are distinct ledger entries.
func (h *AdminHandler) GrantCredits(c *fiber.Ctx) error {
	var req GrantCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}
	if req.Tokens <= 0 && req.LoraCredits <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "grant must include a positive amount",
		})
	}

	description := req.Reason
	if description == "" {
		description = "admin credit grant"
	}

	tx, err := h.ledgerService.Credit(c.Context(), models.CreditParams{
		UserID:      req.UserID,
		Tokens:      req.Tokens,
		LoraCredits: req.LoraCredits,
		Kind:        models.CreditKindAdmin,
		SourceRef:   uuid.NewString(),
		Description: description,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(tx)
}

type CreatePromoRequest struct {
	Code        string `json:"code"`
	Tokens      int64  `json:"tokens"`
	LoraCredits int64  `json:"lora_credits,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// CreatePromo registers one single-use promo code.
func (h *AdminHandler) CreatePromo(c *fiber.Ctx) error {
	var req CreatePromoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Code == "" || req.Tokens <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code and a positive tokens amount are required",
		})
	}

	code := &models.PromoCode{
		Code:        models.NormalizePromoCode(req.Code),
		Tokens:      req.Tokens,
		LoraCredits: req.LoraCredits,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "expires_at must be RFC3339",
			})
		}
		code.ExpiresAt = &expires
	}

	if err := h.promoService.Create(c.Context(), code); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(code)
}

// ListPromos returns all promo codes with their redemption state.
func (h *AdminHandler) ListPromos(c *fiber.Ctx) error {
	codes, err := h.promoService.List(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"promo_codes": codes})
}

// CreatePackage registers a purchasable token bundle.
func (h *AdminHandler) CreatePackage(c *fiber.Ctx) error {
	var pkg models.TokenPackage
	if err := c.BodyParser(&pkg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.ledgerService.CreateTokenPackage(c.Context(), &pkg); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(pkg)
}

type SetSubscriptionRequest struct {
	UserID         string `json:"user_id"`
	Tier           string `json:"tier"`
	IsPaidCustomer bool   `json:"is_paid_customer"`
}

// SetSubscription updates an account's tier.
func (h *AdminHandler) SetSubscription(c *fiber.Ctx) error {
	var req SetSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" || req.Tier == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id and tier are required",
		})
	}

	tier := models.SubscriptionTier(req.Tier)
	switch tier {
	case models.TierFree, models.TierBasic, models.TierPro, models.TierStudio:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown subscription tier",
		})
	}

	if err := h.ledgerService.SetSubscription(c.Context(), req.UserID, tier, req.IsPaidCustomer); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"updated": true})
}
