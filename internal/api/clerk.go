package api

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
)

// ClerkWebhookHandler provisions and tears down accounts from identity
// events. The signup bonus credit is keyed (signup, user id), so replayed
// user.created deliveries grant it once.
type ClerkWebhookHandler struct {
	webhookSecret     string
	ledgerService     *ledger.Service
	reconciler        *compute.Reconciler
	signupBonusTokens int64
}

func NewClerkWebhookHandler(webhookSecret string, ledgerService *ledger.Service, signupBonusTokens int64) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		webhookSecret:     webhookSecret,
		ledgerService:     ledgerService,
		signupBonusTokens: signupBonusTokens,
	}
}

// SetReconciler enables the asset purge on user.deleted. Without it only the
// account and ledger rows are removed.
func (h *ClerkWebhookHandler) SetReconciler(r *compute.Reconciler) {
	h.reconciler = r
}

type ClerkWebhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ClerkUserData struct {
	ID string `json:"id"`
}

func (h *ClerkWebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	payload := c.Body()

	headers := make(map[string][]string)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = []string{string(value)}
	})

	wh, err := svix.NewWebhook(h.webhookSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to initialize webhook verifier",
		})
	}

	if err := wh.Verify(payload, headers); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON payload",
		})
	}

	switch event.Type {
	case "user.created":
		if err := h.handleUserCreated(c, event.Data); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to process user.created event: %v", err),
			})
		}
	case "user.deleted":
		if err := h.handleUserDeleted(c, event.Data); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("Failed to process user.deleted event: %v", err),
			})
		}
	}

	return c.JSON(fiber.Map{
		"received": true,
	})
}

func (h *ClerkWebhookHandler) handleUserCreated(c *fiber.Ctx, data json.RawMessage) error {
	var userData ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	if userData.ID == "" {
		return fmt.Errorf("user.created event missing user id")
	}

	if _, err := h.ledgerService.EnsureAccount(c.Context(), userData.ID); err != nil {
		return fmt.Errorf("failed to provision account: %w", err)
	}

	if h.signupBonusTokens > 0 {
		_, err := h.ledgerService.Credit(c.Context(), models.CreditParams{
			UserID:      userData.ID,
			Tokens:      h.signupBonusTokens,
			Kind:        models.CreditKindSignup,
			SourceRef:   userData.ID,
			Description: "welcome bonus",
		})
		if err != nil {
			return fmt.Errorf("failed to grant signup bonus: %w", err)
		}
	}

	fiberlog.Infof("clerk: account provisioned for user %s", userData.ID)
	return nil
}

func (h *ClerkWebhookHandler) handleUserDeleted(c *fiber.Ctx, data json.RawMessage) error {
	var userData ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	if userData.ID == "" {
		return fmt.Errorf("user.deleted event missing user id")
	}

	if h.reconciler != nil {
		if err := h.reconciler.PurgeUserAssets(c.Context(), userData.ID); err != nil {
			return fmt.Errorf("failed to purge generated assets: %w", err)
		}
	}

	if err := h.ledgerService.DeleteAccount(c.Context(), userData.ID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	fiberlog.Infof("clerk: account deleted for user %s", userData.ID)
	return nil
}
