package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// PointsServiceInterface defines the points ledger operations.
type PointsServiceInterface interface {
	Earn(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error)
	Use(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error)
	Refund(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error)
	Expire(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error)
	GetBalance(ctx context.Context, memberID int64) (*model.PointsBalance, error)
	History(ctx context.Context, memberID int64, limit int) ([]model.LedgerEntry, error)
}

type mutateFunc func(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error)

// PointsHandler handles HTTP requests for the points ledger.
type PointsHandler struct {
	service   PointsServiceInterface
	validator *validator.Validate
}

// NewPointsHandler creates a new PointsHandler.
func NewPointsHandler(svc PointsServiceInterface, v *validator.Validate) *PointsHandler {
	return &PointsHandler{service: svc, validator: v}
}

// Balance handles GET /api/points.
func (h *PointsHandler) Balance(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	b, err := h.service.GetBalance(c.Context(), member)
	if err != nil {
		return writeError(c, err, "get points balance")
	}
	return c.JSON(b)
}

// History handles GET /api/points/history?limit=.
func (h *PointsHandler) History(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	entries, err := h.service.History(c.Context(), member, c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err, "list points history")
	}
	return c.JSON(fiber.Map{"entries": entries})
}

// Earn handles POST /api/points/earn.
func (h *PointsHandler) Earn(c *fiber.Ctx) error {
	return h.mutate(c, model.LedgerEarned, h.service.Earn)
}

// Use handles POST /api/points/use.
func (h *PointsHandler) Use(c *fiber.Ctx) error {
	return h.mutate(c, model.LedgerUsed, h.service.Use)
}

// Refund handles POST /api/points/refund.
func (h *PointsHandler) Refund(c *fiber.Ctx) error {
	return h.mutate(c, model.LedgerRefund, h.service.Refund)
}

// Expire handles POST /api/points/expire.
func (h *PointsHandler) Expire(c *fiber.Ctx) error {
	return h.mutate(c, model.LedgerExpired, h.service.Expire)
}

func (h *PointsHandler) mutate(c *fiber.Ctx, typ model.LedgerType, fn mutateFunc) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req model.PointsMutationRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	res, err := fn(c.Context(), member, req)
	if err != nil {
		return writeError(c, err, string(typ)+" points")
	}
	if res.Replayed {
		return c.JSON(res)
	}

	log.Info().
		Int64("member_id", member).
		Str("type", string(typ)).
		Int64("amount", res.ChangeAmount).
		Int64("after_balance", res.AfterBalance).
		Str("verification_code", res.VerificationCode).
		Msg("points mutated")

	return c.Status(fiber.StatusCreated).JSON(res)
}
