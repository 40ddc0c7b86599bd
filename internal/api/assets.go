package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
)

type AssetsHandler struct {
	reconciler *compute.Reconciler
}

func NewAssetsHandler(reconciler *compute.Reconciler) *AssetsHandler {
	return &AssetsHandler{
		reconciler: reconciler,
	}
}

// ListAssets returns the caller's generated assets, newest first.
func (h *AssetsHandler) ListAssets(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	limit := parseQueryInt(c, "limit", 50, 1, 100)
	offset := parseQueryInt(c, "offset", 0, 0, 1<<30)

	assets, err := h.reconciler.ListAssets(c.Context(), userID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"assets": assets})
}
