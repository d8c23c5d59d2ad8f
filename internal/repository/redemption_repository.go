package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const redemptionColumns = `r.id, r.member_id, r.coupon_id, r.status, r.verification_code, r.order_id, r.used_at, r.created_at`

// RedemptionRepository provides data access for member coupon grants using pgx.
type RedemptionRepository struct {
	pool PoolInterface
}

// NewRedemptionRepository creates a new RedemptionRepository with the given pool.
func NewRedemptionRepository(pool *pgxpool.Pool) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

// NewRedemptionRepositoryWithPool creates a new RedemptionRepository with a custom pool interface.
// This is primarily used for testing.
func NewRedemptionRepositoryWithPool(pool PoolInterface) *RedemptionRepository {
	return &RedemptionRepository{pool: pool}
}

func scanRedemptionWithCoupon(row pgx.Row) (*model.RedemptionWithCoupon, error) {
	var rc model.RedemptionWithCoupon
	var status, kind string
	r := &rc.Redemption
	dest := []any{&r.ID, &r.MemberID, &r.CouponID, &status, &r.VerificationCode, &r.OrderID, &r.UsedAt, &r.CreatedAt}
	dest = append(dest, couponDest(&rc.Coupon, &kind)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.Status = model.RedemptionStatus(status)
	if err := finishCoupon(&rc.Coupon, kind); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *RedemptionRepository) findOne(ctx context.Context, where string, args ...any) (*model.RedemptionWithCoupon, error) {
	query := `SELECT ` + redemptionColumns + `, ` + couponColumns + `
		FROM coupon_redemptions r JOIN coupons c ON c.id = r.coupon_id
		WHERE ` + where

	rc, err := scanRedemptionWithCoupon(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rc, nil
}

// FindByCouponID returns the member's grant of a coupon, or nil if the member holds none.
func (r *RedemptionRepository) FindByCouponID(ctx context.Context, memberID, couponID int64) (*model.RedemptionWithCoupon, error) {
	rc, err := r.findOne(ctx, `r.member_id = $1 AND r.coupon_id = $2`, memberID, couponID)
	if err != nil {
		return nil, fmt.Errorf("find redemption for coupon %d: %w", couponID, err)
	}
	return rc, nil
}

// FindByVerificationCode returns the member's grant carrying code, or nil.
func (r *RedemptionRepository) FindByVerificationCode(ctx context.Context, memberID int64, code string) (*model.RedemptionWithCoupon, error) {
	rc, err := r.findOne(ctx, `r.member_id = $1 AND r.verification_code = $2`, memberID, code)
	if err != nil {
		return nil, fmt.Errorf("find redemption by code: %w", err)
	}
	return rc, nil
}

// ListByMember retrieves the member's coupon wallet, newest first.
// On success, returns an empty slice (not nil) when the wallet is empty.
func (r *RedemptionRepository) ListByMember(ctx context.Context, memberID int64) ([]model.RedemptionWithCoupon, error) {
	query := `SELECT ` + redemptionColumns + `, ` + couponColumns + `
		FROM coupon_redemptions r JOIN coupons c ON c.id = r.coupon_id
		WHERE r.member_id = $1
		ORDER BY r.created_at DESC, r.id DESC`

	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions for member %d: %w", memberID, err)
	}
	defer rows.Close()

	out := []model.RedemptionWithCoupon{}
	for rows.Next() {
		rc, err := scanRedemptionWithCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemption rows: %w", err)
	}
	return out, nil
}

// Insert inserts a new redemption within a transaction and fills in its id.
// Returns service.ErrAlreadyClaimed if the member already holds this coupon.
func (r *RedemptionRepository) Insert(ctx context.Context, tx database.TxQuerier, rd *model.CouponRedemption) error {
	query := `INSERT INTO coupon_redemptions (member_id, coupon_id, status, verification_code)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	err := tx.QueryRow(ctx, query, rd.MemberID, rd.CouponID, string(rd.Status), rd.VerificationCode).
		Scan(&rd.ID, &rd.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "coupon_redemptions_member_id_coupon_id_key") {
			return service.ErrAlreadyClaimed
		}
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// MarkUsed transitions an active redemption to used and counts one usage against the coupon cap.
// Returns service.ErrCouponAlreadyUsed if the redemption was consumed concurrently and
// service.ErrCouponExhausted if the coupon's usage cap is already reached.
func (r *RedemptionRepository) MarkUsed(ctx context.Context, tx database.TxQuerier, redemptionID, couponID, orderID int64, usedAt time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE coupon_redemptions SET status = 'used', order_id = $2, used_at = $3
		WHERE id = $1 AND status = 'active'`,
		redemptionID, orderID, usedAt)
	if err != nil {
		return fmt.Errorf("mark redemption %d used: %w", redemptionID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCouponAlreadyUsed
	}

	tag, err = tx.Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`,
		couponID)
	if err != nil {
		return fmt.Errorf("increment used count for %d: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCouponExhausted
	}
	return nil
}
