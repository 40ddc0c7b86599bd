package api

import (
	"errors"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
)

// writeError maps service errors onto HTTP responses. Business errors keep
// their code and status; anything unrecognized is a sanitized 500.
func writeError(c *fiber.Ctx, err error) error {
	if balErr, ok := models.IsInsufficientBalance(err); ok {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     "insufficient balance",
			"code":      "INSUFFICIENT_BALANCE",
			"required":  balErr.Required,
			"available": balErr.Available,
		})
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		body := fiber.Map{"error": appErr.Message}
		if appErr.Code != "" {
			body["code"] = appErr.Code
		}
		return c.Status(appErr.GetStatusCode()).JSON(body)
	}

	fiberlog.Errorf("api: unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}
