package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// StagedCouponRepository persists the coupon a member has applied to the cart.
// It satisfies service.StagedCouponStore for multi-instance deployments.
type StagedCouponRepository struct {
	pool PoolInterface
}

// NewStagedCouponRepository creates a new StagedCouponRepository with the given pool.
func NewStagedCouponRepository(pool *pgxpool.Pool) *StagedCouponRepository {
	return &StagedCouponRepository{pool: pool}
}

// NewStagedCouponRepositoryWithPool creates a new StagedCouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewStagedCouponRepositoryWithPool(pool PoolInterface) *StagedCouponRepository {
	return &StagedCouponRepository{pool: pool}
}

// Get returns the unexpired staged coupon, or nil.
func (r *StagedCouponRepository) Get(ctx context.Context, memberID int64) (*model.AppliedCoupon, error) {
	var ac model.AppliedCoupon
	err := r.pool.QueryRow(ctx,
		`SELECT member_id, coupon_id, redemption_id, code, title, discount_amount, applied_at, expires_at
		FROM staged_coupons WHERE member_id = $1 AND expires_at > NOW()`,
		memberID).Scan(
		&ac.MemberID, &ac.CouponID, &ac.RedemptionID, &ac.Code, &ac.Title,
		&ac.DiscountAmount, &ac.AppliedAt, &ac.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get staged coupon for member %d: %w", memberID, err)
	}
	return &ac, nil
}

// Put replaces the member's staged coupon.
func (r *StagedCouponRepository) Put(ctx context.Context, ac *model.AppliedCoupon) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO staged_coupons (member_id, coupon_id, redemption_id, code, title, discount_amount, applied_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (member_id) DO UPDATE SET
			coupon_id = EXCLUDED.coupon_id,
			redemption_id = EXCLUDED.redemption_id,
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			discount_amount = EXCLUDED.discount_amount,
			applied_at = EXCLUDED.applied_at,
			expires_at = EXCLUDED.expires_at`,
		ac.MemberID, ac.CouponID, ac.RedemptionID, ac.Code, ac.Title, ac.DiscountAmount, ac.AppliedAt, ac.ExpiresAt)
	if err != nil {
		return fmt.Errorf("stage coupon for member %d: %w", ac.MemberID, err)
	}
	return nil
}

// Delete drops the member's staged coupon. Deleting nothing is not an error.
func (r *StagedCouponRepository) Delete(ctx context.Context, memberID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM staged_coupons WHERE member_id = $1`, memberID); err != nil {
		return fmt.Errorf("delete staged coupon for member %d: %w", memberID, err)
	}
	return nil
}
