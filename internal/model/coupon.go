package model

import (
	"time"

	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
)

// Coupon represents a coupon definition.
type Coupon struct {
	ID            int64
	Title         string
	Discount      pricing.Discount
	MinSpend      int64
	MemberLevelID *int64
	StartAt       time.Time
	ExpiredAt     time.Time
	IsActive      bool
	UsageLimit    int // 0 = unlimited
	UsedCount     int
	ClaimLimit    int // 0 = unlimited
	ClaimedCount  int
	CreatedAt     time.Time
}

// RedemptionStatus is the lifecycle state of a member's coupon grant.
type RedemptionStatus string

const (
	RedemptionActive RedemptionStatus = "active"
	RedemptionUsed   RedemptionStatus = "used"
)

// CouponRedemption is one member's grant of one coupon.
type CouponRedemption struct {
	ID               int64
	MemberID         int64
	CouponID         int64
	Status           RedemptionStatus
	VerificationCode string
	OrderID          *int64
	UsedAt           *time.Time
	CreatedAt        time.Time
}

// RedemptionWithCoupon is a redemption joined with its coupon definition.
type RedemptionWithCoupon struct {
	Redemption CouponRedemption
	Coupon     Coupon
}

// CouponResponse is the API response DTO for GET /api/coupons/:id
type CouponResponse struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	DiscountType    string    `json:"discount_type"`
	DiscountValue   int64     `json:"discount_value"`
	MinSpend        int64     `json:"min_spend"`
	StartAt         time.Time `json:"start_at"`
	ExpiredAt       time.Time `json:"expired_at"`
	RemainingClaims *int      `json:"remaining_claims"` // nil = unlimited
}

// WalletCoupon is a redemption in the member's coupon wallet.
type WalletCoupon struct {
	RedemptionID     int64     `json:"redemption_id"`
	CouponID         int64     `json:"coupon_id"`
	Title            string    `json:"title"`
	Status           string    `json:"status"`
	VerificationCode string    `json:"verification_code"`
	ExpiredAt        time.Time `json:"expired_at"`
}

// ClaimCouponResponse is returned by POST /api/coupons/:id/claim.
type ClaimCouponResponse struct {
	RedemptionID     int64  `json:"redemption_id"`
	CouponID         int64  `json:"coupon_id"`
	VerificationCode string `json:"verification_code"`
	Status           string `json:"status"`
}
