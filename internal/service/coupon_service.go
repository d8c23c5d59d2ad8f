package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Coupon, error)
	GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error)
	IncrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error
}

// RedemptionRepositoryInterface defines the interface for coupon redemption data access.
type RedemptionRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, r *model.CouponRedemption) error
	FindByCouponID(ctx context.Context, memberID, couponID int64) (*model.RedemptionWithCoupon, error)
	FindByVerificationCode(ctx context.Context, memberID int64, code string) (*model.RedemptionWithCoupon, error)
	ListByMember(ctx context.Context, memberID int64) ([]model.RedemptionWithCoupon, error)
	MarkUsed(ctx context.Context, tx database.TxQuerier, redemptionID, couponID, orderID int64, usedAt time.Time) error
}

// CouponService provides coupon claiming, resolution and the shared redemption rule set.
type CouponService struct {
	pool           database.TxBeginner
	couponRepo     CouponRepositoryInterface
	redemptionRepo RedemptionRepositoryInterface
	now            func() time.Time
	newCode        func() string
}

// NewCouponService creates a new CouponService with the given pool and repositories.
func NewCouponService(pool *pgxpool.Pool, couponRepo CouponRepositoryInterface, redemptionRepo RedemptionRepositoryInterface) *CouponService {
	return NewCouponServiceWithTxBeginner(pool, couponRepo, redemptionRepo)
}

// NewCouponServiceWithTxBeginner creates a CouponService with a custom TxBeginner.
// Primarily used for testing.
func NewCouponServiceWithTxBeginner(pool database.TxBeginner, couponRepo CouponRepositoryInterface, redemptionRepo RedemptionRepositoryInterface) *CouponService {
	return &CouponService{
		pool:           pool,
		couponRepo:     couponRepo,
		redemptionRepo: redemptionRepo,
		now:            func() time.Time { return time.Now().UTC() },
		newCode:        func() string { return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16] },
	}
}

// GetCoupon retrieves a coupon definition.
// Returns ErrCouponNotFound if the coupon doesn't exist.
func (s *CouponService) GetCoupon(ctx context.Context, id int64) (*model.CouponResponse, error) {
	coupon, err := s.couponRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	resp := &model.CouponResponse{
		ID:            coupon.ID,
		Title:         coupon.Title,
		DiscountType:  coupon.Discount.Kind.String(),
		DiscountValue: coupon.Discount.Value,
		MinSpend:      coupon.MinSpend,
		StartAt:       coupon.StartAt,
		ExpiredAt:     coupon.ExpiredAt,
	}
	if coupon.ClaimLimit > 0 {
		remaining := max(0, coupon.ClaimLimit-coupon.ClaimedCount)
		resp.RemainingClaims = &remaining
	}
	return resp, nil
}

// ListWallet returns the member's coupon grants, newest first.
func (s *CouponService) ListWallet(ctx context.Context, memberID int64) ([]model.WalletCoupon, error) {
	rows, err := s.redemptionRepo.ListByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	wallet := make([]model.WalletCoupon, 0, len(rows))
	for _, r := range rows {
		wallet = append(wallet, model.WalletCoupon{
			RedemptionID:     r.Redemption.ID,
			CouponID:         r.Coupon.ID,
			Title:            r.Coupon.Title,
			Status:           string(r.Redemption.Status),
			VerificationCode: r.Redemption.VerificationCode,
			ExpiredAt:        r.Coupon.ExpiredAt,
		})
	}
	return wallet, nil
}

// ClaimCoupon atomically grants a coupon to a member.
// Uses SELECT FOR UPDATE to lock the coupon row during the transaction.
// Returns:
//   - ErrCouponNotFound if the coupon doesn't exist
//   - ErrCouponInactive / ErrCouponExpired if the coupon can no longer be claimed
//   - ErrNoStock if the coupon has no claims left
//   - ErrAlreadyClaimed if the member already holds this coupon
func (s *CouponService) ClaimCoupon(ctx context.Context, memberID, couponID int64) (*model.ClaimCouponResponse, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the coupon row (SELECT FOR UPDATE)
	coupon, err := s.couponRepo.GetCouponForUpdate(ctx, tx, couponID)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update: %w", err)
	}

	// 2. Check claimability and quota
	if !coupon.IsActive {
		return nil, ErrCouponInactive
	}
	if s.now().After(coupon.ExpiredAt) {
		return nil, ErrCouponExpired
	}
	if coupon.ClaimLimit > 0 && coupon.ClaimedCount >= coupon.ClaimLimit {
		return nil, ErrNoStock
	}

	// 3. Insert redemption (UNIQUE (member_id, coupon_id) catches duplicates)
	redemption := &model.CouponRedemption{
		MemberID:         memberID,
		CouponID:         couponID,
		Status:           model.RedemptionActive,
		VerificationCode: s.newCode(),
	}
	if err := s.redemptionRepo.Insert(ctx, tx, redemption); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	// 4. Count the claim
	if err := s.couponRepo.IncrementClaimed(ctx, tx, couponID); err != nil {
		return nil, fmt.Errorf("increment claimed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	log.Info().
		Int64("member_id", memberID).
		Int64("coupon_id", couponID).
		Int64("redemption_id", redemption.ID).
		Msg("coupon claimed")

	return &model.ClaimCouponResponse{
		RedemptionID:     redemption.ID,
		CouponID:         couponID,
		VerificationCode: redemption.VerificationCode,
		Status:           string(redemption.Status),
	}, nil
}

// Resolve finds the member's redemption for a code. A numeric code is tried as a coupon id first
// (tap-to-claim flow) and falls back to a verification code match (manual entry).
func (s *CouponService) Resolve(ctx context.Context, memberID int64, code string) (*model.RedemptionWithCoupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrCouponNotFound
	}

	if id, err := strconv.ParseInt(code, 10, 64); err == nil && id > 0 {
		rc, err := s.redemptionRepo.FindByCouponID(ctx, memberID, id)
		if err != nil {
			return nil, fmt.Errorf("find redemption by coupon id: %w", err)
		}
		if rc != nil {
			return rc, nil
		}
	}

	rc, err := s.redemptionRepo.FindByVerificationCode(ctx, memberID, code)
	if err != nil {
		return nil, fmt.Errorf("find redemption by code: %w", err)
	}
	if rc == nil {
		return nil, ErrCouponNotFound
	}
	return rc, nil
}

// Evaluate applies the redemption rules and returns the discount for subtotal.
func (s *CouponService) Evaluate(rc *model.RedemptionWithCoupon, member *model.Member, subtotal int64) (int64, error) {
	return EvaluateCoupon(rc, member, subtotal, s.now())
}

// EvaluateCoupon checks every redemption rule in a fixed order and computes the discount.
func EvaluateCoupon(rc *model.RedemptionWithCoupon, member *model.Member, subtotal int64, now time.Time) (int64, error) {
	if rc == nil {
		return 0, ErrCouponNotFound
	}
	c := rc.Coupon
	switch {
	case rc.Redemption.Status == model.RedemptionUsed:
		return 0, ErrCouponAlreadyUsed
	case !c.IsActive:
		return 0, ErrCouponInactive
	case now.Before(c.StartAt):
		return 0, ErrCouponNotStarted
	case now.After(c.ExpiredAt):
		return 0, ErrCouponExpired
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return 0, ErrCouponExhausted
	case c.MemberLevelID != nil && (member == nil || member.LevelID == nil || *member.LevelID != *c.MemberLevelID):
		return 0, ErrCouponLevelMismatch
	case subtotal < c.MinSpend:
		return 0, fmt.Errorf("%w: need %d, have %d", ErrCouponMinSpend, c.MinSpend, subtotal)
	}
	return c.Discount.Compute(subtotal), nil
}

// MarkUsed consumes the redemption inside the checkout transaction and attaches it to orderID.
func (s *CouponService) MarkUsed(ctx context.Context, tx database.TxQuerier, rc *model.RedemptionWithCoupon, orderID int64) error {
	return s.redemptionRepo.MarkUsed(ctx, tx, rc.Redemption.ID, rc.Coupon.ID, orderID, s.now())
}
