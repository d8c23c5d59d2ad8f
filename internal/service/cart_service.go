package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// CatalogRepositoryInterface defines the product/variant reader-writer.
type CatalogRepositoryInterface interface {
	GetVariant(ctx context.Context, productID, variantID int64) (*model.Variant, error)
	DecrementStock(ctx context.Context, tx database.TxQuerier, variantID int64, qty int) error
}

// CartRepositoryInterface defines the interface for cart data access.
type CartRepositoryInterface interface {
	GetOrCreate(ctx context.Context, memberID int64) (int64, error)
	GetCart(ctx context.Context, memberID int64) (*model.Cart, error)
	UpsertLine(ctx context.Context, cartID, productID, variantID int64, qty int, unitPrice int64) (int64, error)
	UpdateQuantity(ctx context.Context, memberID, lineID int64, qty int) error
	DeleteLines(ctx context.Context, memberID int64, lineIDs []int64) (int64, error)
	ConsumeLines(ctx context.Context, tx database.TxQuerier, memberID int64, lines []model.CartLine) (int64, error)
	Clear(ctx context.Context, q database.TxQuerier, memberID int64) error
}

// CartDeps groups the collaborators of CartService.
type CartDeps struct {
	DB        database.TxQuerier
	Members   MemberRepositoryInterface
	Carts     CartRepositoryInterface
	Catalog   CatalogRepositoryInterface
	Coupons   *CouponService
	Staged    StagedCouponStore
	Policy    pricing.Policy
	StagedTTL time.Duration
	Clock     func() time.Time
}

// CartService manages cart lines and the staged coupon.
type CartService struct {
	db        database.TxQuerier
	members   MemberRepositoryInterface
	carts     CartRepositoryInterface
	catalog   CatalogRepositoryInterface
	coupons   *CouponService
	staged    StagedCouponStore
	policy    pricing.Policy
	stagedTTL time.Duration
	now       func() time.Time
}

// NewCartService creates a CartService.
func NewCartService(deps CartDeps) *CartService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.StagedTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CartService{
		db:        deps.DB,
		members:   deps.Members,
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		staged:    deps.Staged,
		policy:    deps.Policy,
		stagedTTL: ttl,
		now:       clock,
	}
}

func loadMember(ctx context.Context, members MemberRepositoryInterface, memberID int64) (*model.Member, error) {
	member, err := members.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

// GetCart returns the cart with the staged coupon re-evaluated against the current subtotal.
func (s *CartService) GetCart(ctx context.Context, memberID int64) (*model.CartView, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, member, cart)
}

func (s *CartService) view(ctx context.Context, member *model.Member, cart *model.Cart) (*model.CartView, error) {
	subtotal := cart.Subtotal()
	v := &model.CartView{
		MemberID:    member.ID,
		Lines:       make([]model.CartLineView, 0, len(cart.Lines)),
		ItemCount:   cart.ItemCount(),
		Subtotal:    subtotal,
		ShippingFee: s.policy.Shipping(subtotal),
	}
	for _, l := range cart.Lines {
		v.Lines = append(v.Lines, model.CartLineView{
			LineID:      l.ID,
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			VariantName: l.VariantName,
			VendorID:    l.VendorID,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Subtotal:    l.Subtotal(),
			AddedAt:     l.CreatedAt,
		})
	}

	applied, err := s.staged.Get(ctx, member.ID)
	if err != nil {
		return nil, err
	}
	if applied != nil {
		discount, err := s.stagedDiscount(ctx, member, applied, subtotal)
		if err != nil {
			return nil, err
		}
		if discount >= 0 {
			v.Discount = discount
			v.AppliedCoupon = &model.AppliedCouponView{
				CouponID:       applied.CouponID,
				Code:           applied.Code,
				Title:          applied.Title,
				DiscountAmount: discount,
				AppliedAt:      applied.AppliedAt,
			}
		}
	}

	v.Total = pricing.Total(subtotal, v.ShippingFee, 0, v.Discount, 0)
	return v, nil
}

// stagedDiscount re-validates a staged coupon. A coupon that no longer applies is dropped and
// reported as -1.
func (s *CartService) stagedDiscount(ctx context.Context, member *model.Member, applied *model.AppliedCoupon, subtotal int64) (int64, error) {
	rc, err := s.coupons.Resolve(ctx, member.ID, applied.Code)
	if err == nil {
		var discount int64
		discount, err = s.coupons.Evaluate(rc, member, subtotal)
		if err == nil {
			return discount, nil
		}
	}
	if !IsCouponRejection(err) {
		return 0, err
	}

	log.Debug().Err(err).Int64("member_id", member.ID).Str("code", applied.Code).Msg("staged coupon no longer applies")
	if delErr := s.staged.Delete(ctx, member.ID); delErr != nil {
		log.Warn().Err(delErr).Int64("member_id", member.ID).Msg("failed to drop staged coupon")
	}
	return -1, nil
}

// AddItem adds quantity to the (product, variant) line at the current price.
// The merged quantity must not exceed current stock.
func (s *CartService) AddItem(ctx context.Context, memberID int64, req model.AddItemRequest) (*model.CartView, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}

	variant, err := s.catalog.GetVariant(ctx, req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, ErrProductNotFound
	}
	if !variant.ProductActive {
		return nil, ErrProductInactive
	}

	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	existing := 0
	for _, l := range cart.Lines {
		if l.ProductID == req.ProductID && l.VariantID == req.VariantID {
			existing = l.Quantity
			break
		}
	}
	if existing+req.Quantity > variant.Stock {
		return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, variant.ProductName, variant.Stock)
	}

	cartID, err := s.carts.GetOrCreate(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := s.carts.UpsertLine(ctx, cartID, req.ProductID, req.VariantID, req.Quantity, variant.Price); err != nil {
		return nil, err
	}

	cart, err = s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, member, cart)
}

// UpdateQuantity sets a line's quantity within current stock.
func (s *CartService) UpdateQuantity(ctx context.Context, memberID, lineID int64, qty int) (*model.CartView, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}

	var line *model.CartLine
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			line = &cart.Lines[i]
			break
		}
	}
	switch {
	case line == nil:
		return nil, ErrCartLineNotFound
	case !line.VariantExists:
		return nil, ErrProductNotFound
	case qty > line.Stock:
		return nil, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, line.ProductName, line.Stock)
	}

	if err := s.carts.UpdateQuantity(ctx, memberID, lineID, qty); err != nil {
		return nil, err
	}
	cart, err = s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, member, cart)
}

// RemoveItem deletes one line.
func (s *CartService) RemoveItem(ctx context.Context, memberID, lineID int64) (*model.CartView, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	n, err := s.carts.DeleteLines(ctx, memberID, []int64{lineID})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrCartLineNotFound
	}
	return s.reload(ctx, member)
}

// RemoveItems deletes several lines. Ids not in the cart are ignored.
func (s *CartService) RemoveItems(ctx context.Context, memberID int64, lineIDs []int64) (*model.CartView, error) {
	if len(lineIDs) == 0 {
		return nil, fmt.Errorf("%w: no lines given", ErrInvalidRequest)
	}
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := s.carts.DeleteLines(ctx, memberID, lineIDs); err != nil {
		return nil, err
	}
	return s.reload(ctx, member)
}

// Clear empties the cart and drops the staged coupon.
func (s *CartService) Clear(ctx context.Context, memberID int64) (*model.CartView, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.Clear(ctx, s.db, memberID); err != nil {
		return nil, err
	}
	if err := s.staged.Delete(ctx, memberID); err != nil {
		return nil, err
	}
	return s.reload(ctx, member)
}

func (s *CartService) reload(ctx context.Context, member *model.Member) (*model.CartView, error) {
	cart, err := s.carts.GetCart(ctx, member.ID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, member, cart)
}

// ApplyCoupon validates code against the cart and stages it. A rejected coupon is reported as
// Success=false with the reason; only system failures return an error.
func (s *CartService) ApplyCoupon(ctx context.Context, memberID int64, code string) (*model.ApplyCouponResult, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return &model.ApplyCouponResult{Success: false, Message: ErrCartEmpty.Error()}, nil
	}

	subtotal := cart.Subtotal()
	rc, err := s.coupons.Resolve(ctx, memberID, code)
	var discount int64
	if err == nil {
		discount, err = s.coupons.Evaluate(rc, member, subtotal)
	}
	if err != nil {
		if IsCouponRejection(err) {
			return &model.ApplyCouponResult{Success: false, Message: err.Error()}, nil
		}
		return nil, err
	}

	now := s.now()
	applied := &model.AppliedCoupon{
		MemberID:       memberID,
		CouponID:       rc.Coupon.ID,
		RedemptionID:   rc.Redemption.ID,
		Code:           code,
		Title:          rc.Coupon.Title,
		DiscountAmount: discount,
		AppliedAt:      now,
		ExpiresAt:      now.Add(s.stagedTTL),
	}
	if err := s.staged.Put(ctx, applied); err != nil {
		return nil, err
	}

	view, err := s.view(ctx, member, cart)
	if err != nil {
		return nil, err
	}
	return &model.ApplyCouponResult{
		Success: true,
		Message: fmt.Sprintf("coupon %q applied, %d off", rc.Coupon.Title, discount),
		Cart:    view,
	}, nil
}

// RemoveCoupon drops the staged coupon.
func (s *CartService) RemoveCoupon(ctx context.Context, memberID int64) (*model.CartView, error) {
	member, err := loadMember(ctx, s.members, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.staged.Delete(ctx, memberID); err != nil {
		return nil, err
	}
	return s.reload(ctx, member)
}

// Validate re-checks every line against the catalog, including price drift. It never mutates the cart.
func (s *CartService) Validate(ctx context.Context, memberID int64) (*model.CartValidation, error) {
	if _, err := loadMember(ctx, s.members, memberID); err != nil {
		return nil, err
	}
	cart, err := s.carts.GetCart(ctx, memberID)
	if err != nil {
		return nil, err
	}

	issues := inspectLines(cart, true)
	if len(cart.Lines) == 0 {
		issues = append(issues, model.ValidationIssue{Code: model.IssueCartEmpty, Message: ErrCartEmpty.Error()})
	}
	return &model.CartValidation{IsValid: len(issues) == 0, Issues: issues}, nil
}

// inspectLines collects every line problem. Price drift is only reported when checkPrice is set.
func inspectLines(cart *model.Cart, checkPrice bool) []model.ValidationIssue {
	issues := []model.ValidationIssue{}
	for _, l := range cart.Lines {
		issue := model.ValidationIssue{LineID: l.ID, ProductID: l.ProductID, VariantID: l.VariantID}
		switch {
		case !l.VariantExists:
			issue.Code = model.IssueVariantMissing
			issue.Message = fmt.Sprintf("variant %d of product %d no longer exists", l.VariantID, l.ProductID)
		case !l.ProductActive:
			issue.Code = model.IssueProductInactive
			issue.Message = fmt.Sprintf("%s is no longer available", l.ProductName)
		case l.Stock < l.Quantity:
			issue.Code = model.IssueInsufficientStock
			issue.Message = fmt.Sprintf("%s %s: only %d left, %d requested", l.ProductName, l.VariantName, l.Stock, l.Quantity)
		case checkPrice && l.CurrentPrice != l.UnitPrice:
			issue.Code = model.IssuePriceChanged
			issue.Message = fmt.Sprintf("%s price changed from %d to %d", l.ProductName, l.UnitPrice, l.CurrentPrice)
		default:
			continue
		}
		issues = append(issues, issue)
	}
	return issues
}
