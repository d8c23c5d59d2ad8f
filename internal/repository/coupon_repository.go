package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const couponColumns = `c.id, c.title, c.discount_type, c.discount_value, c.min_spend, c.member_level_id,
	c.start_at, c.expired_at, c.is_active, c.usage_limit, c.used_count, c.claim_limit, c.claimed_count, c.created_at`

// couponDest returns scan targets matching couponColumns. The discount type is scanned into kind
// and resolved by finishCoupon.
func couponDest(c *model.Coupon, kind *string) []any {
	return []any{
		&c.ID, &c.Title, kind, &c.Discount.Value, &c.MinSpend, &c.MemberLevelID,
		&c.StartAt, &c.ExpiredAt, &c.IsActive, &c.UsageLimit, &c.UsedCount, &c.ClaimLimit, &c.ClaimedCount, &c.CreatedAt,
	}
}

func finishCoupon(c *model.Coupon, kind string) error {
	k, err := pricing.ParseDiscountKind(kind)
	if err != nil {
		return fmt.Errorf("coupon %d: %w", c.ID, err)
	}
	c.Discount.Kind = k
	return nil
}

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByID retrieves a coupon by id.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons c WHERE c.id = $1`

	var coupon model.Coupon
	var kind string
	err := r.pool.QueryRow(ctx, query, id).Scan(couponDest(&coupon, &kind)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get coupon %d: %w", id, err)
	}
	if err := finishCoupon(&coupon, kind); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetCouponForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// This locks the row until the transaction completes.
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons c WHERE c.id = $1 FOR UPDATE`

	var coupon model.Coupon
	var kind string
	err := tx.QueryRow(ctx, query, id).Scan(couponDest(&coupon, &kind)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update %d: %w", id, err)
	}
	if err := finishCoupon(&coupon, kind); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IncrementClaimed counts one more claim against the coupon.
// Must be called within a transaction after locking the row.
func (r *CouponRepository) IncrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error {
	query := `UPDATE coupons SET claimed_count = claimed_count + 1 WHERE id = $1`

	_, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment claimed for %d: %w", id, err)
	}
	return nil
}
