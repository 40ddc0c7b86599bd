package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveID(t *testing.T, header string) string {
	t.Helper()

	ids := NewIDSource()
	var got string

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		got = ids.RequestID(c)
		// A second call within the same request must see the cached value.
		assert.Equal(t, got, ids.RequestID(c))
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	_, err := app.Test(req)
	require.NoError(t, err)

	return got
}

func TestRequestIDFromHeader(t *testing.T) {
	assert.Equal(t, "client-key-1", resolveID(t, "client-key-1"))
}

func TestRequestIDTrimsAndCaps(t *testing.T) {
	assert.Equal(t, "padded", resolveID(t, "  padded  "))

	long := strings.Repeat("x", maxIDLength+50)
	assert.Len(t, resolveID(t, long), maxIDLength)
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	first := resolveID(t, "")
	assert.True(t, strings.HasPrefix(first, "req_"), "got %q", first)

	// Separate requests without a header get distinct keys.
	assert.NotEqual(t, first, resolveID(t, ""))
}

func TestRequestIDWhitespaceHeaderFallsBack(t *testing.T) {
	got := resolveID(t, "   ")
	assert.True(t, strings.HasPrefix(got, "req_"), "got %q", got)
}
