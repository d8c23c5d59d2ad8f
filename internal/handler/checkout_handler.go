package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
)

// CheckoutServiceInterface defines the read-only checkout operations.
type CheckoutServiceInterface interface {
	ValidateCheckout(ctx context.Context, memberID int64) (*model.CheckoutValidation, error)
	GetCheckoutSummary(ctx context.Context, memberID int64, req service.SummaryRequest) (*model.CheckoutSummary, error)
}

// OrderServiceInterface defines the order commit.
type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, req model.CheckoutRequest) (*model.CreateOrderResult, error)
}

// CheckoutHandler handles checkout validation, summary and order submission.
type CheckoutHandler struct {
	checkout  CheckoutServiceInterface
	orders    OrderServiceInterface
	validator *validator.Validate
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkout CheckoutServiceInterface, orders OrderServiceInterface, v *validator.Validate) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, orders: orders, validator: v}
}

// Validate handles GET /api/checkout/validate.
func (h *CheckoutHandler) Validate(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.checkout.ValidateCheckout(c.Context(), member)
	if err != nil {
		return writeError(c, err, "validate checkout")
	}
	return c.JSON(res)
}

// Summary handles GET /api/checkout/summary?coupon_code=&used_points=&payment_method=.
func (h *CheckoutHandler) Summary(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var usedPoints int64
	if raw := c.Query("used_points"); raw != "" {
		usedPoints, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || usedPoints < 0 {
			return badRequest(c, "invalid request: used_points must be a whole number of at least 0")
		}
	}

	summary, err := h.checkout.GetCheckoutSummary(c.Context(), member, service.SummaryRequest{
		CouponCode:    c.Query("coupon_code"),
		UsedPoints:    usedPoints,
		PaymentMethod: c.Query("payment_method"),
	})
	if err != nil {
		return writeError(c, err, "build checkout summary")
	}
	return c.JSON(summary)
}

// CreateOrder handles POST /api/checkout/orders. The Idempotency-Key header is used when the
// body carries no idempotency_key.
func (h *CheckoutHandler) CreateOrder(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req model.CheckoutRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}
	req.MemberID = member
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}

	res, err := h.orders.CreateOrder(c.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(model.CreateOrderResult{
				Success: false,
				Message: err.Error(),
				Errors:  verr.Issues,
			})
		}
		return writeError(c, err, "create order")
	}

	if res.Order != nil && res.Order.Replayed {
		return c.JSON(res)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
