package api

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
)

type AccountHandler struct {
	ledgerService *ledger.Service
}

func NewAccountHandler(ledgerService *ledger.Service) *AccountHandler {
	return &AccountHandler{
		ledgerService: ledgerService,
	}
}

// GetBalanceResponse is the balance query payload.
type GetBalanceResponse struct {
	UserID           string `json:"user_id"`
	Tokens           int64  `json:"tokens"`
	LoraCredits      int64  `json:"lora_credits"`
	SubscriptionTier string `json:"subscription_tier"`
	IsPaidCustomer   bool   `json:"is_paid_customer"`
	TotalPurchased   int64  `json:"total_purchased"`
	TotalUsed        int64  `json:"total_used"`
}

// GetBalance returns the caller's balances. First authenticated read
// provisions a zero-balance account.
func (h *AccountHandler) GetBalance(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	account, err := h.ledgerService.EnsureAccount(c.Context(), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(GetBalanceResponse{
		UserID:           account.UserID,
		Tokens:           account.Tokens,
		LoraCredits:      account.LoraCredits,
		SubscriptionTier: string(account.Tier()),
		IsPaidCustomer:   account.IsPaidCustomer,
		TotalPurchased:   account.TotalPurchased,
		TotalUsed:        account.TotalUsed,
	})
}

type TransactionItem struct {
	ID               uint           `json:"id"`
	Type             string         `json:"type"`
	Tokens           int64          `json:"tokens"`
	LoraCredits      int64          `json:"lora_credits,omitempty"`
	TokensAfter      int64          `json:"tokens_after"`
	LoraCreditsAfter int64          `json:"lora_credits_after,omitempty"`
	Description      string         `json:"description,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

type GetTransactionHistoryResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	Total        int               `json:"total"`
	Limit        int               `json:"limit"`
	Offset       int               `json:"offset"`
}

// GetTransactionHistory returns the caller's ledger history, newest first.
func (h *AccountHandler) GetTransactionHistory(c *fiber.Ctx) error {
	userID, ok := auth.GetUserID(c)
	if !ok {
		return writeError(c, models.ErrUnauthenticated)
	}

	limit := parseQueryInt(c, "limit", 20, 1, 100)
	offset := parseQueryInt(c, "offset", 0, 0, 1<<30)

	transactions, err := h.ledgerService.GetTransactionHistory(c.Context(), userID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}

	items := make([]TransactionItem, len(transactions))
	for i, tx := range transactions {
		var metadata map[string]any
		if tx.Metadata != "" {
			_ = json.Unmarshal([]byte(tx.Metadata), &metadata)
		}

		items[i] = TransactionItem{
			ID:               tx.ID,
			Type:             string(tx.Type),
			Tokens:           tx.Tokens,
			LoraCredits:      tx.LoraCredits,
			TokensAfter:      tx.TokensAfter,
			LoraCreditsAfter: tx.LoraCreditsAfter,
			Description:      tx.Description,
			Metadata:         metadata,
			CreatedAt:        tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	return c.JSON(GetTransactionHistoryResponse{
		Transactions: items,
		Total:        len(items),
		Limit:        limit,
		Offset:       offset,
	})
}

// ListPackages returns the purchasable token packages.
func (h *AccountHandler) ListPackages(c *fiber.Ctx) error {
	packages, err := h.ledgerService.GetTokenPackages(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"packages": packages})
}

func parseQueryInt(c *fiber.Ctx, name string, def, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}
