package service

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// SummaryRequest carries the buyer's checkout choices.
// An empty CouponCode falls back to the coupon staged on the cart.
type SummaryRequest struct {
	CouponCode    string
	UsedPoints    int64
	PaymentMethod string
}

// CheckoutPlan is the validated, priced input of the order commit.
type CheckoutPlan struct {
	Member     *model.Member
	Cart       *model.Cart
	Redemption *model.RedemptionWithCoupon // nil when no coupon applies
	Summary    *model.CheckoutSummary
}

// CheckoutDeps groups the collaborators of CheckoutService.
type CheckoutDeps struct {
	DB      database.TxQuerier
	Members MemberRepositoryInterface
	Carts   CartRepositoryInterface
	Points  PointsRepositoryInterface
	Coupons *CouponService
	Staged  StagedCouponStore
	Policy  pricing.Policy
}

// CheckoutService validates carts for checkout and builds the authoritative price summary.
type CheckoutService struct {
	db      database.TxQuerier
	members MemberRepositoryInterface
	carts   CartRepositoryInterface
	points  PointsRepositoryInterface
	coupons *CouponService
	staged  StagedCouponStore
	policy  pricing.Policy
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(deps CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		db:      deps.DB,
		members: deps.Members,
		carts:   deps.Carts,
		points:  deps.Points,
		coupons: deps.Coupons,
		staged:  deps.Staged,
		policy:  deps.Policy,
	}
}

// ValidateCheckout checks every line for an active product and sufficient stock, collecting all
// problems. A valid cart also gets its summary with the staged coupon and no points.
func (s *CheckoutService) ValidateCheckout(ctx context.Context, memberID int64) (*model.CheckoutValidation, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}

	issues := checkoutIssues(cart)
	if len(issues) > 0 {
		return &model.CheckoutValidation{IsValid: false, Errors: issues}, nil
	}

	priced, err := s.summarize(ctx, member, cart, SummaryRequest{})
	if err != nil {
		return nil, err
	}
	return &model.CheckoutValidation{IsValid: true, Errors: issues, Summary: priced.withCouponMessage()}, nil
}

// GetCheckoutSummary prices the cart. A rejected coupon leaves the discount at zero and is
// explained in CouponMessage.
func (s *CheckoutService) GetCheckoutSummary(ctx context.Context, memberID int64, req SummaryRequest) (*model.CheckoutSummary, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}

	priced, err := s.summarize(ctx, member, cart, req)
	if err != nil {
		return nil, err
	}
	return priced.withCouponMessage(), nil
}

// Prepare validates the cart and builds the summary for a commit. Every user-correctable
// problem, including a rejected coupon, is returned as a *ValidationError.
func (s *CheckoutService) Prepare(ctx context.Context, memberID int64, req SummaryRequest) (*CheckoutPlan, error) {
	if req.UsedPoints < 0 {
		return nil, &ValidationError{Issues: []model.ValidationIssue{{
			Code: model.IssuePoints, Message: "used points must not be negative",
		}}}
	}
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if issues := checkoutIssues(cart); len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	priced, err := s.summarize(ctx, member, cart, req)
	if err != nil {
		return nil, err
	}
	if priced.couponErr != nil {
		return nil, &ValidationError{Issues: []model.ValidationIssue{{
			Code: model.IssueCoupon, Message: priced.couponErr.Error(),
		}}}
	}
	return &CheckoutPlan{Member: member, Cart: cart, Redemption: priced.redemption, Summary: priced.summary}, nil
}

func checkoutIssues(cart *model.Cart) []model.ValidationIssue {
	if len(cart.Lines) == 0 {
		return []model.ValidationIssue{{Code: model.IssueCartEmpty, Message: ErrCartEmpty.Error()}}
	}
	return inspectLines(cart, false)
}

type pricedCart struct {
	summary    *model.CheckoutSummary
	redemption *model.RedemptionWithCoupon
	couponErr  error
}

func (p *pricedCart) withCouponMessage() *model.CheckoutSummary {
	if p.couponErr != nil {
		p.summary.CouponMessage = p.couponErr.Error()
	}
	return p.summary
}

// summarize prices the cart at add-time prices. A coupon rejection is kept apart from system
// errors so callers can choose whether it is fatal.
func (s *CheckoutService) summarize(ctx context.Context, member *model.Member, cart *model.Cart, req SummaryRequest) (*pricedCart, error) {
	method, err := pricing.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	subtotal := cart.Subtotal()
	summary := &model.CheckoutSummary{
		ItemCount:     cart.ItemCount(),
		Subtotal:      subtotal,
		ShippingFee:   s.policy.Shipping(subtotal),
		PaymentMethod: string(method),
		PaymentFee:    s.policy.PaymentFee(method),
	}

	code := req.CouponCode
	if code == "" {
		applied, err := s.staged.Get(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if applied != nil {
			code = applied.Code
		}
	}

	priced := &pricedCart{summary: summary}
	if code != "" {
		var discount int64
		found, err := s.coupons.Resolve(ctx, member.ID, code)
		if err == nil {
			discount, err = s.coupons.Evaluate(found, member, subtotal)
		}
		switch {
		case err == nil:
			priced.redemption = found
			couponID := found.Coupon.ID
			summary.CouponID = &couponID
			summary.CouponTitle = found.Coupon.Title
			summary.CouponDiscount = discount
		case IsCouponRejection(err):
			priced.couponErr = err
		default:
			return nil, err
		}
	}

	balance, err := s.points.GetBalance(ctx, s.db, member.ID)
	if err != nil {
		return nil, err
	}
	summary.AvailablePoints = balance.TotalPoints
	summary.MaxPointsDeduction = s.policy.MaxPointsDeduction(subtotal, balance.TotalPoints)
	summary.PointsDeduction = pricing.ClampPoints(req.UsedPoints, summary.MaxPointsDeduction)
	summary.Total = pricing.Total(subtotal, summary.ShippingFee, summary.PaymentFee, summary.CouponDiscount, summary.PointsDeduction)

	return priced, nil
}
