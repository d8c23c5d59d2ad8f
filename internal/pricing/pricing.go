// Package pricing holds the money arithmetic shared by the cart, the checkout summary and the
// order splitter. Amounts are whole currency units; points redeem one-to-one.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how the buyer pays.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentATM        PaymentMethod = "atm"
	PaymentCOD        PaymentMethod = "cod"
	PaymentLinePay    PaymentMethod = "line_pay"
)

// ParsePaymentMethod normalises a raw method name. Empty input yields the zero value without error.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch m {
	case "", PaymentCreditCard, PaymentATM, PaymentCOD, PaymentLinePay:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// Policy is the checkout pricing configuration.
type Policy struct {
	ShippingFee           int64
	FreeShippingThreshold int64
	MaxPointsRatio        decimal.Decimal
	PaymentFees           map[PaymentMethod]int64
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		ShippingFee:           60,
		FreeShippingThreshold: 2000,
		MaxPointsRatio:        decimal.RequireFromString("0.3"),
		PaymentFees:           map[PaymentMethod]int64{PaymentCOD: 30},
	}
}

// Shipping returns the flat fee, waived at the threshold. An empty cart ships nothing.
func (p Policy) Shipping(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFee
}

// PaymentFee returns the processing fee for the method.
func (p Policy) PaymentFee(method PaymentMethod) int64 {
	return p.PaymentFees[method]
}

// MaxPointsDeduction is min(floor(ratio × subtotal), balance).
func (p Policy) MaxPointsDeduction(subtotal, balance int64) int64 {
	if subtotal <= 0 || balance <= 0 {
		return 0
	}
	limit := decimal.NewFromInt(subtotal).Mul(p.MaxPointsRatio).Floor().IntPart()
	return min(limit, balance)
}

// ClampPoints bounds the requested points to [0, limit].
func ClampPoints(requested, limit int64) int64 {
	if requested < 0 {
		return 0
	}
	return min(requested, limit)
}

// Total is subtotal + shipping + fee − discount − points, floored at zero.
func Total(subtotal, shipping, fee, discount, points int64) int64 {
	return max(0, subtotal+shipping+fee-discount-points)
}

// Allocate splits shared across parts proportionally, rounding each share half away from zero.
// The primary part absorbs the rounding remainder so the shares always sum to shared.
// A single part takes the full amount.
func Allocate(shared int64, parts []int64, primary int) []int64 {
	out := make([]int64, len(parts))
	if len(parts) == 0 {
		return out
	}
	if primary < 0 || primary >= len(parts) {
		primary = 0
	}
	if len(parts) == 1 || shared == 0 {
		out[primary] = shared
		return out
	}

	var total int64
	for _, p := range parts {
		total += p
	}
	if total <= 0 {
		out[primary] = shared
		return out
	}

	whole := decimal.NewFromInt(shared)
	denominator := decimal.NewFromInt(total)
	var assigned int64
	for i, p := range parts {
		if i == primary {
			continue
		}
		share := whole.Mul(decimal.NewFromInt(p)).Div(denominator).Round(0).IntPart()
		out[i] = share
		assigned += share
	}
	out[primary] = shared - assigned
	return out
}
