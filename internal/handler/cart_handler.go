package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// CartServiceInterface defines the cart operations exposed over HTTP.
type CartServiceInterface interface {
	GetCart(ctx context.Context, memberID int64) (*model.CartView, error)
	AddItem(ctx context.Context, memberID int64, req model.AddItemRequest) (*model.CartView, error)
	UpdateQuantity(ctx context.Context, memberID, lineID int64, qty int) (*model.CartView, error)
	RemoveItem(ctx context.Context, memberID, lineID int64) (*model.CartView, error)
	RemoveItems(ctx context.Context, memberID int64, lineIDs []int64) (*model.CartView, error)
	Clear(ctx context.Context, memberID int64) (*model.CartView, error)
	ApplyCoupon(ctx context.Context, memberID int64, code string) (*model.ApplyCouponResult, error)
	RemoveCoupon(ctx context.Context, memberID int64) (*model.CartView, error)
	Validate(ctx context.Context, memberID int64) (*model.CartValidation, error)
}

// CartHandler handles HTTP requests for the member's cart.
type CartHandler struct {
	service   CartServiceInterface
	validator *validator.Validate
}

// NewCartHandler creates a new CartHandler with the given service and validator.
func NewCartHandler(svc CartServiceInterface, v *validator.Validate) *CartHandler {
	return &CartHandler{service: svc, validator: v}
}

// GetCart handles GET /api/cart.
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	view, err := h.service.GetCart(c.Context(), member)
	if err != nil {
		return writeError(c, err, "get cart")
	}
	return c.JSON(view)
}

// AddItem handles POST /api/cart/items.
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req model.AddItemRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	view, err := h.service.AddItem(c.Context(), member, req)
	if err != nil {
		return writeError(c, err, "add cart item")
	}

	log.Info().
		Int64("member_id", member).
		Int64("product_id", req.ProductID).
		Int64("variant_id", req.VariantID).
		Int("quantity", req.Quantity).
		Msg("cart item added")

	return c.Status(fiber.StatusCreated).JSON(view)
}

// UpdateQuantity handles PATCH /api/cart/items/:lineId.
func (h *CartHandler) UpdateQuantity(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return badRequest(c, "invalid request: lineId must be a positive integer")
	}
	var req model.UpdateQuantityRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	view, err := h.service.UpdateQuantity(c.Context(), member, lineID, req.Quantity)
	if err != nil {
		return writeError(c, err, "update cart line")
	}
	return c.JSON(view)
}

// RemoveItem handles DELETE /api/cart/items/:lineId.
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return badRequest(c, "invalid request: lineId must be a positive integer")
	}

	view, err := h.service.RemoveItem(c.Context(), member, lineID)
	if err != nil {
		return writeError(c, err, "remove cart line")
	}
	return c.JSON(view)
}

// RemoveItems handles POST /api/cart/items/remove.
func (h *CartHandler) RemoveItems(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req model.RemoveItemsRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	view, err := h.service.RemoveItems(c.Context(), member, req.LineIDs)
	if err != nil {
		return writeError(c, err, "remove cart lines")
	}
	return c.JSON(view)
}

// Clear handles DELETE /api/cart.
func (h *CartHandler) Clear(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	view, err := h.service.Clear(c.Context(), member)
	if err != nil {
		return writeError(c, err, "clear cart")
	}
	return c.JSON(view)
}

// ApplyCoupon handles POST /api/cart/coupon. A rejected coupon is a 422 carrying the reason.
func (h *CartHandler) ApplyCoupon(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req model.ApplyCouponRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	res, err := h.service.ApplyCoupon(c.Context(), member, req.Code)
	if err != nil {
		return writeError(c, err, "apply coupon")
	}
	if !res.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}

	log.Info().
		Int64("member_id", member).
		Str("coupon_code", req.Code).
		Int64("discount", res.Cart.Discount).
		Msg("coupon staged")

	return c.JSON(res)
}

// RemoveCoupon handles DELETE /api/cart/coupon.
func (h *CartHandler) RemoveCoupon(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	view, err := h.service.RemoveCoupon(c.Context(), member)
	if err != nil {
		return writeError(c, err, "remove coupon")
	}
	return c.JSON(view)
}

// Validate handles GET /api/cart/validate.
func (h *CartHandler) Validate(c *fiber.Ctx) error {
	member, err := memberID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.service.Validate(c.Context(), member)
	if err != nil {
		return writeError(c, err, "validate cart")
	}
	return c.JSON(res)
}
