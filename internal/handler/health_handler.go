package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

const pingTimeout = 2 * time.Second

// schemaProbe touches the ledger table without reading rows; it fails until the schema is applied.
const schemaProbe = "SELECT 1 FROM points_ledger LIMIT 0"

// Prober is the slice of the pool the health check needs.
type Prober interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// HealthHandler reports database reachability and schema readiness.
type HealthHandler struct {
	db Prober
}

func NewHealthHandler(db Prober) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check answers 200 {"status": "healthy", "checks": {...}} or 503 with the failing check.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), pingTimeout)
	defer cancel()

	checks := fiber.Map{"database": "ok", "schema": "ok"}
	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check failed: database unreachable")
		checks["database"] = "down"
		checks["schema"] = "unknown"
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "database connection failed",
			"checks": checks,
		})
	}
	if _, err := h.db.Exec(ctx, schemaProbe); err != nil {
		log.Error().Err(err).Msg("health check failed: ledger schema missing")
		checks["schema"] = "missing"
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "schema not applied",
			"checks": checks,
		})
	}
	return c.JSON(fiber.Map{"status": "healthy", "checks": checks})
}
