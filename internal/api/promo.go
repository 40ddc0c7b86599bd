package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/promo"
)

type PromoHandler struct {
	promoService *promo.Service
}

func NewPromoHandler(promoService *promo.Service) *PromoHandler {
	return &PromoHandler{
		promoService: promoService,
	}
}

type RedeemPromoRequest struct {
	Code string `json:"code"`
}

// RedeemPromo redeems one promo code for the caller. Each code redeems once
// and each account redeems at most one code, both enforced transactionally.
func (h *PromoHandler) RedeemPromo(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	var req RedeemPromoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code is required",
		})
	}

	tx, err := h.promoService.Redeem(c.Context(), userID, req.Code)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"tokens":             tx.Tokens,
		"lora_credits":       tx.LoraCredits,
		"tokens_after":       tx.TokensAfter,
		"lora_credits_after": tx.LoraCreditsAfter,
	})
}
