package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
)

type AuthMiddleware struct {
	authProvider *auth.ClerkAuthProvider
	ledger       *ledger.Service
	config       *AuthMiddlewareConfig
}

type AuthMiddlewareConfig struct {
	Enabled     bool
	HeaderNames []string
	SkipPaths   []string
}

// DefaultAuthMiddlewareConfig skips health and webhook routes; webhooks
// authenticate with their own signatures, not user tokens.
func DefaultAuthMiddlewareConfig() *AuthMiddlewareConfig {
	return &AuthMiddlewareConfig{
		Enabled:     true,
		HeaderNames: []string{"Authorization"},
		SkipPaths: []string{
			"/health",
			"/webhooks",
		},
	}
}

func NewAuthMiddleware(authProvider *auth.ClerkAuthProvider, ledgerSvc *ledger.Service, config *AuthMiddlewareConfig) *AuthMiddleware {
	if config == nil {
		config = DefaultAuthMiddlewareConfig()
	}
	if len(config.HeaderNames) == 0 {
		config.HeaderNames = []string{"Authorization"}
	}
	return &AuthMiddleware{
		authProvider: authProvider,
		ledger:       ledgerSvc,
		config:       config,
	}
}

// RequireAuth authenticates the request and stores the caller in locals.
func (m *AuthMiddleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.config.Enabled {
			return c.Next()
		}

		if m.shouldSkipPath(c.Path()) {
			return c.Next()
		}

		token := m.extractToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := m.authProvider.ValidateToken(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		auth.SetAuthContext(c, &auth.AuthContext{
			UserID: claims.Subject,
			Claims: claims,
		})

		return c.Next()
	}
}

// RequireAdmin allows only accounts flagged is_admin. Must run after
// RequireAuth.
func (m *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := auth.GetUserID(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		account, err := m.ledger.GetAccount(c.Context(), userID)
		if err != nil || !account.IsAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		return c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	for _, headerName := range m.config.HeaderNames {
		if header := c.Get(headerName); header != "" {
			if after, ok := strings.CutPrefix(header, "Bearer "); ok {
				return after
			}
			return strings.TrimSpace(header)
		}
	}

	return ""
}

func (m *AuthMiddleware) shouldSkipPath(path string) bool {
	for _, skipPath := range m.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}
