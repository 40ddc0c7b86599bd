// Package request resolves the per-request idempotency key. The key becomes
// the debit's source reference, so a retried request re-settles on the
// original charge instead of paying twice.
package request

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localKey    = "request_id"
	maxIDLength = 256
)

// IDSource resolves one idempotency key per request: the caller's
// X-Request-ID header when present, a generated id otherwise. The resolved
// key is cached in fiber locals so every consumer within the request (the
// debit, the compensating refund, logging) sees the same value.
type IDSource struct{}

func NewIDSource() *IDSource {
	return &IDSource{}
}

// RequestID returns the request's idempotency key, resolving and caching it
// on first call.
func (s *IDSource) RequestID(c *fiber.Ctx) string {
	if cached, ok := c.Locals(localKey).(string); ok && cached != "" {
		return cached
	}

	id := sanitize(c.Get("X-Request-ID"))
	if id == "" {
		id = generateID()
	}

	c.Locals(localKey, id)
	return id
}

// sanitize trims whitespace and caps the length so a hostile header cannot
// bloat the ledger's source_ref column.
func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxIDLength {
		id = id[:maxIDLength]
	}
	return id
}

func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(b)
}
