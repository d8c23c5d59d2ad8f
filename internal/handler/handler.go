package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/service"
)

// MemberHeader carries the authenticated member id, set by the upstream gateway.
const MemberHeader = "X-Member-ID"

var errMissingMember = errors.New("missing or invalid " + MemberHeader + " header")

// memberID reads the caller's member id from the MemberHeader.
func memberID(c *fiber.Ctx) (int64, error) {
	raw := strings.TrimSpace(c.Get(MemberHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingMember
	}
	return id, nil
}

// pathID parses a positive integer route parameter.
func pathID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": errMissingMember.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// formatValidationError converts the first validator error into a client message.
// Field names are the JSON names registered by internal/validator.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}
	fe := ve[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "invalid request: " + field + " is required"
	case "notblank":
		return "invalid request: " + field + " cannot be whitespace only"
	case "max":
		return "invalid request: " + field + " exceeds maximum length of " + fe.Param()
	case "gte", "min":
		return "invalid request: " + field + " must be at least " + fe.Param()
	case "lte":
		return "invalid request: " + field + " must be at most " + fe.Param()
	case "gt":
		return "invalid request: " + field + " must be greater than " + fe.Param()
	case "oneof":
		return "invalid request: " + field + " must be one of [" + fe.Param() + "]"
	default:
		return "invalid request: " + field + " is invalid"
	}
}

// parseBody decodes and validates the JSON body. It writes the 400 response itself and
// reports false when the request must stop.
func parseBody(c *fiber.Ctx, v *validator.Validate, dst any) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, badRequest(c, "invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return false, badRequest(c, formatValidationError(err))
	}
	return true, nil
}

// statusFor maps a service error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrNoStock):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrMemberNotFound), errors.Is(err, service.ErrCartLineNotFound),
		errors.Is(err, service.ErrProductNotFound), errors.Is(err, service.ErrCouponNotFound),
		errors.Is(err, service.ErrAddressNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrAlreadyClaimed), errors.Is(err, service.ErrDuplicateCheckout),
		errors.Is(err, service.ErrAlreadyApplied), errors.Is(err, service.ErrVerificationCodeConflict),
		errors.Is(err, service.ErrCartChanged):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrCartEmpty), errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrAddressUnresolvable), errors.Is(err, service.ErrCheckoutInvalid),
		service.IsCouponRejection(err):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as {"error": ...}. Server errors are logged and never leak their text.
func writeError(c *fiber.Ctx, err error, action string) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("member_id", c.Get(MemberHeader)).
			Msg("failed to " + action)
		return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
	}

	body := fiber.Map{"error": err.Error()}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = verr.Issues
	}
	return c.Status(status).JSON(body)
}
