package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// CouponServiceInterface defines the interface for coupon business logic.
type CouponServiceInterface interface {
	GetCoupon(ctx context.Context, id int64) (*model.CouponResponse, error)
	ListWallet(ctx context.Context, memberID int64) ([]model.WalletCoupon, error)
	ClaimCoupon(ctx context.Context, memberID, couponID int64) (*model.ClaimCouponResponse, error)
}

// CouponHandler handles HTTP requests for coupon operations.
type CouponHandler struct {
	service CouponServiceInterface
}

// NewCouponHandler creates a new CouponHandler with the given service.
func NewCouponHandler(svc CouponServiceInterface) *CouponHandler {
	return &CouponHandler{service: svc}
}

// GetCoupon handles GET /api/coupons/:id requests to retrieve coupon details.
func (h *CouponHandler) GetCoupon(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request: id must be a positive integer")
	}

	coupon, err := h.service.GetCoupon(c.Context(), id)
	if err != nil {
		return writeError(c, err, "get coupon")
	}
	return c.JSON(coupon)
}

// ListWallet handles GET /api/coupons: the caller's claimed coupons.
func (h *CouponHandler) ListWallet(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	wallet, err := h.service.ListWallet(c.Context(), member)
	if err != nil {
		return writeError(c, err, "list coupon wallet")
	}
	return c.JSON(fiber.Map{"coupons": wallet})
}

// ClaimCoupon handles POST /api/coupons/:id/claim requests.
func (h *CouponHandler) ClaimCoupon(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid request: id must be a positive integer")
	}

	res, err := h.service.ClaimCoupon(c.Context(), member, id)
	if err != nil {
		return writeError(c, err, "claim coupon")
	}

	log.Info().
		Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int64("member_id", member).
		Int64("coupon_id", id).
		Msg("coupon claimed successfully")

	return c.Status(fiber.StatusCreated).JSON(res)
}
