package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// CheckinServiceInterface defines the daily check-in operations.
type CheckinServiceInterface interface {
	GetCheckinInfo(ctx context.Context, memberID int64) (*model.CheckinInfo, error)
	PerformCheckin(ctx context.Context, memberID int64) (*model.CheckinResult, error)
}

// CheckinHandler handles HTTP requests for the daily check-in.
type CheckinHandler struct {
	service CheckinServiceInterface
}

// NewCheckinHandler creates a new CheckinHandler.
func NewCheckinHandler(svc CheckinServiceInterface) *CheckinHandler {
	return &CheckinHandler{service: svc}
}

// Info handles GET /api/checkin.
func (h *CheckinHandler) Info(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	info, err := h.service.GetCheckinInfo(c.Context(), member)
	if err != nil {
		return writeError(c, err, "get check-in info")
	}
	return c.JSON(info)
}

// Checkin handles POST /api/checkin. A repeat on the same day returns 200 with the original reward.
func (h *CheckinHandler) Checkin(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.service.PerformCheckin(c.Context(), member)
	if err != nil {
		return writeError(c, err, "check in")
	}
	if res.AlreadyCheckedIn {
		return c.JSON(res)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
