package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artforge-ai/artforge-api/internal/models"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/services/database"
)

func newHealthApp(t *testing.T) (*fiber.App, *HealthHandler, *database.DB) {
	t.Helper()

	db, err := database.New(models.DatabaseConfig{
		Type:     models.SQLite,
		FilePath: ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	handler := NewHealthHandler(db, nil)

	app := fiber.New()
	app.Get("/health", handler.HealthCheck)

	return app, handler, db
}

func getHealth(t *testing.T, app *fiber.App) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHealthCheckHealthy(t *testing.T) {
	app, _, _ := newHealthApp(t)

	resp, body := getHealth(t, app)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "unknown", checks["redis"])
	assert.Equal(t, "unknown", checks["compute"])
}

func TestHealthCheckComputeWithoutBreaker(t *testing.T) {
	app, handler, _ := newHealthApp(t)
	handler.SetComputeClient(compute.NewClient(models.ComputeConfig{BaseURL: "http://localhost:0"}, nil))

	resp, body := getHealth(t, app)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unknown", checks["compute"])
}

func TestHealthCheckDegradedWhenDatabaseDown(t *testing.T) {
	app, _, db := newHealthApp(t)
	require.NoError(t, db.Close())

	resp, body := getHealth(t, app)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])

	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unhealthy", checks["database"])
}
