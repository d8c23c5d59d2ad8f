package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountKind is the closed set of coupon discount types.
type DiscountKind int

const (
	// KindPercentage takes a percentage off the subtotal.
	KindPercentage DiscountKind = iota + 1
	// KindFlatMinus takes a fixed amount off the subtotal.
	KindFlatMinus
	// KindCurrencyReward credits a separate balance and leaves the order total untouched.
	KindCurrencyReward
)

func (k DiscountKind) String() string {
	switch k {
	case KindPercentage:
		return "percentage"
	case KindFlatMinus:
		return "minus"
	case KindCurrencyReward:
		return "currency_reward"
	}
	return "unknown"
}

// ParseDiscountKind maps the stored type string to a DiscountKind.
func ParseDiscountKind(raw string) (DiscountKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "percentage", "percent":
		return KindPercentage, nil
	case "minus", "flat", "amount":
		return KindFlatMinus, nil
	case "currency_reward", "jcoin":
		return KindCurrencyReward, nil
	}
	return 0, fmt.Errorf("unknown discount type %q", raw)
}

// Discount pairs a kind with its value: a percentage for KindPercentage, an amount otherwise.
type Discount struct {
	Kind  DiscountKind
	Value int64
}

// Compute returns the amount taken off subtotal, bounded to [0, subtotal].
func (d Discount) Compute(subtotal int64) int64 {
	if subtotal <= 0 || d.Value <= 0 {
		return 0
	}

	var amount int64
	switch d.Kind {
	case KindPercentage:
		amount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(d.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case KindFlatMinus:
		amount = d.Value
	default:
		return 0
	}
	return min(amount, subtotal)
}
