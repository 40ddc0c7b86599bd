package auth

import (
	"context"
	"fmt"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
)

// ClerkAuthProvider verifies Clerk session tokens. Every authenticated route
// resolves its caller through this provider; the resulting user id is the
// authorization boundary for all ledger reads and writes.
type ClerkAuthProvider struct {
	secretKey string
}

func NewClerkAuthProvider(secretKey string) *ClerkAuthProvider {
	clerk.SetKey(secretKey)

	return &ClerkAuthProvider{secretKey: secretKey}
}

func (p *ClerkAuthProvider) ValidateToken(ctx context.Context, token string) (*clerk.SessionClaims, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
		Token: token,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}
