package auth

import (
	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/gofiber/fiber/v2"
)

const authContextKey = "auth_context"

// AuthContext is the authenticated caller, stored in fiber locals by the
// auth middleware.
type AuthContext struct {
	UserID string
	Claims *clerk.SessionClaims
}

func SetAuthContext(c *fiber.Ctx, authCtx *AuthContext) {
	c.Locals(authContextKey, authCtx)
}

func GetAuthContext(c *fiber.Ctx) *AuthContext {
	authCtx, ok := c.Locals(authContextKey).(*AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// GetUserID returns the authenticated caller's user id.
func GetUserID(c *fiber.Ctx) (string, bool) {
	authCtx := GetAuthContext(c)
	if authCtx == nil {
		return "", false
	}
	return authCtx.UserID, authCtx.UserID != ""
}

func GetClerkClaims(c *fiber.Ctx) (*clerk.SessionClaims, bool) {
	authCtx := GetAuthContext(c)
	if authCtx == nil || authCtx.Claims == nil {
		return nil, false
	}
	return authCtx.Claims, true
}
