package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/services/database"
)

// HealthHandler reports the service's dependency health.
type HealthHandler struct {
	db          *database.DB
	redisClient *redis.Client
	compute     *compute.Client
}

func NewHealthHandler(db *database.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
	}
}

// SetComputeClient registers the compute client for breaker-state reporting.
// The handler treats compute as unconfigured until this is called.
func (h *HealthHandler) SetComputeClient(client *compute.Client) {
	h.compute = client
}

func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	dbStatus := h.checkDatabase()
	redisStatus := h.checkRedis()
	computeStatus := h.checkCompute()

	overallStatus := "healthy"
	statusCode := fiber.StatusOK
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"compute":  computeStatus,
		},
	})
}

func (h *HealthHandler) checkDatabase() string {
	if err := h.db.Ping(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (h *HealthHandler) checkRedis() string {
	if h.redisClient == nil {
		return "unknown"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// checkCompute reads the circuit breaker state without mutating it. An open
// breaker means the provider is rejecting or timing out; the service still
// serves reads, so an open breaker does not degrade overall status.
func (h *HealthHandler) checkCompute() string {
	if h.compute == nil {
		return "unknown"
	}
	switch h.compute.BreakerState() {
	case "Open":
		return "unhealthy"
	case "":
		return "unknown"
	default:
		return "healthy"
	}
}
