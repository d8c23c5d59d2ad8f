package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

var (
	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMemberNotFound is returned when the member id does not resolve to a member
	ErrMemberNotFound = errors.New("member not found")

	// ErrCartEmpty is returned when an operation needs at least one cart line
	ErrCartEmpty = errors.New("cart is empty")

	// ErrCartLineNotFound is returned when a line id does not belong to the member's cart
	ErrCartLineNotFound = errors.New("cart line not found")

	// ErrProductNotFound is returned when a product/variant pair does not exist
	ErrProductNotFound = errors.New("product not found")

	// ErrProductInactive is returned when a product is no longer sold
	ErrProductInactive = errors.New("product is not active")

	// ErrInsufficientStock is returned when stock cannot cover the requested quantity
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCouponNotFound is returned when a coupon or the member's grant of it cannot be found
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrAlreadyClaimed is returned when a member claims a coupon they already hold
	ErrAlreadyClaimed = errors.New("coupon already claimed by member")

	// ErrNoStock is returned when a coupon has no claims left
	ErrNoStock = errors.New("coupon out of stock")

	// ErrCouponAlreadyUsed is returned when the member's redemption is already used
	ErrCouponAlreadyUsed = errors.New("coupon already used")

	// ErrCouponInactive is returned when the coupon has been switched off
	ErrCouponInactive = errors.New("coupon is not active")

	// ErrCouponNotStarted is returned before the coupon validity window opens
	ErrCouponNotStarted = errors.New("coupon is not yet valid")

	// ErrCouponExpired is returned after the coupon validity window closes
	ErrCouponExpired = errors.New("coupon has expired")

	// ErrCouponExhausted is returned when the coupon usage cap is reached
	ErrCouponExhausted = errors.New("coupon usage limit reached")

	// ErrCouponLevelMismatch is returned when the coupon targets another member level
	ErrCouponLevelMismatch = errors.New("coupon is not available for this member level")

	// ErrCouponMinSpend is returned when the subtotal is below the coupon minimum
	ErrCouponMinSpend = errors.New("subtotal below coupon minimum spend")

	// ErrInvalidAmount is returned when a points amount is not positive
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a debit exceeds the points balance
	ErrInsufficientBalance = errors.New("insufficient points balance")

	// ErrAlreadyApplied is returned when a verification code was written by a concurrent request
	ErrAlreadyApplied = errors.New("mutation already applied")

	// ErrVerificationCodeConflict is returned when a verification code belongs to another member or operation
	ErrVerificationCodeConflict = errors.New("verification code already used for a different mutation")

	// ErrAddressNotFound is returned when an explicit address id does not belong to the member
	ErrAddressNotFound = errors.New("address not found")

	// ErrAddressUnresolvable is returned when no address exists and the request lacks recipient fields
	ErrAddressUnresolvable = errors.New("shipping address could not be resolved")

	// ErrDuplicateCheckout is returned when an idempotency key was committed by a concurrent request
	ErrDuplicateCheckout = errors.New("checkout already submitted")

	// ErrCartChanged is returned when a priced cart line was removed or resized while the checkout was committing
	ErrCartChanged = errors.New("cart changed during checkout")

	// ErrCheckoutInvalid is wrapped by ValidationError
	ErrCheckoutInvalid = errors.New("checkout validation failed")

	// ErrCheckoutFailed is returned when the commit transaction fails for a system reason
	ErrCheckoutFailed = errors.New("checkout failed")
)

// ValidationError carries every user-correctable issue found during a multi-line check.
type ValidationError struct {
	Issues []model.ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("%s: %s", ErrCheckoutInvalid, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match ErrCheckoutInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrCheckoutInvalid
}

// IsCouponRejection reports whether err is one of the user-facing coupon rule failures.
func IsCouponRejection(err error) bool {
	for _, target := range []error{
		ErrCouponNotFound, ErrCouponAlreadyUsed, ErrCouponInactive, ErrCouponNotStarted,
		ErrCouponExpired, ErrCouponExhausted, ErrCouponLevelMismatch, ErrCouponMinSpend,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isUserError reports whether err is a validation or conflict outcome rather than a system fault.
func isUserError(err error) bool {
	if IsCouponRejection(err) {
		return true
	}
	for _, target := range []error{
		ErrInvalidRequest, ErrMemberNotFound, ErrCartEmpty, ErrCartLineNotFound, ErrProductNotFound,
		ErrProductInactive, ErrInsufficientStock, ErrInvalidAmount, ErrInsufficientBalance,
		ErrAlreadyApplied, ErrVerificationCodeConflict, ErrAddressNotFound, ErrAddressUnresolvable,
		ErrCheckoutInvalid, ErrDuplicateCheckout, ErrCartChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
