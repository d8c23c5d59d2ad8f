package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const orderNumberPrefix = "ORD-"

// OrderRepositoryInterface defines the interface for order data access.
type OrderRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error
	InsertLines(ctx context.Context, tx database.TxQuerier, orderID int64, lines []model.OrderLine) error
	FindByCheckoutKey(ctx context.Context, memberID int64, key string) (*model.Order, error)
	ListByGroup(ctx context.Context, group string) ([]model.Order, error)
}

// OrderDeps groups the collaborators of OrderService.
type OrderDeps struct {
	DB       database.DB
	Checkout *CheckoutService
	Coupons  *CouponService
	Ledger   *PointsService
	Members  MemberRepositoryInterface
	Orders   OrderRepositoryInterface
	Catalog  CatalogRepositoryInterface
	Carts    CartRepositoryInterface
	Points   PointsRepositoryInterface
	Staged   StagedCouponStore
	IDGen    func() string
}

// OrderService splits a cart into one order per vendor and commits it atomically.
type OrderService struct {
	db       database.DB
	checkout *CheckoutService
	coupons  *CouponService
	ledger   *PointsService
	members  MemberRepositoryInterface
	orders   OrderRepositoryInterface
	catalog  CatalogRepositoryInterface
	carts    CartRepositoryInterface
	points   PointsRepositoryInterface
	staged   StagedCouponStore
	idGen    func() string
}

// NewOrderService creates an OrderService. Order numbers and checkout groups default to ULIDs.
func NewOrderService(deps OrderDeps) *OrderService {
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &OrderService{
		db:       deps.DB,
		checkout: deps.Checkout,
		coupons:  deps.Coupons,
		ledger:   deps.Ledger,
		members:  deps.Members,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		carts:    deps.Carts,
		points:   deps.Points,
		staged:   deps.Staged,
		idGen:    idGen,
	}
}

type vendorGroup struct {
	vendorID *int64
	lines    []model.CartLine
	subtotal int64
}

// splitByVendor groups lines by vendor: platform-sold lines first, then ascending vendor id.
// Lines keep their cart order within a group.
func splitByVendor(lines []model.CartLine) []vendorGroup {
	index := make(map[int64]int)
	var groups []vendorGroup
	for _, l := range lines {
		key := l.VendorKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, vendorGroup{vendorID: l.VendorID})
		}
		groups[i].lines = append(groups[i].lines, l)
		groups[i].subtotal += l.Subtotal()
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groupKey(groups[a]) < groupKey(groups[b])
	})
	return groups
}

func groupKey(g vendorGroup) int64 {
	if g.vendorID == nil {
		return 0
	}
	return *g.vendorID
}

// primaryGroup picks the group with the largest subtotal; ties go to the earlier group.
func primaryGroup(groups []vendorGroup) int {
	primary := 0
	for i, g := range groups {
		if g.subtotal > groups[primary].subtotal {
			primary = i
		}
	}
	return primary
}

// CreateOrder validates the cart, splits it per vendor and commits every order, the coupon
// redemption, the points debit, the stock decrements and the consumed cart lines in one transaction.
// A repeated IdempotencyKey returns the original result.
func (s *OrderService) CreateOrder(ctx context.Context, req model.CheckoutRequest) (*model.CreateOrderResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if res, err := s.replay(ctx, req.MemberID, key); res != nil || err != nil {
			return res, err
		}
	}

	plan, err := s.checkout.Prepare(ctx, req.MemberID, SummaryRequest{
		CouponCode:    req.CouponCode,
		UsedPoints:    req.UsedPoints,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		// A concurrent submit with the same key may have committed and cleared the cart meanwhile.
		if key != "" {
			if res, replayErr := s.replay(ctx, req.MemberID, key); res != nil || replayErr != nil {
				return res, replayErr
			}
		}
		return nil, s.classify(req.MemberID, err)
	}

	orders, primary := s.buildOrders(plan, req)
	if key != "" {
		orders[primary].CheckoutKey = &key
	}

	err = database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return s.commit(ctx, tx, plan, req, orders, primary)
	})
	if errors.Is(err, ErrDuplicateCheckout) && key != "" {
		if res, replayErr := s.replay(ctx, req.MemberID, key); res != nil || replayErr != nil {
			return res, replayErr
		}
	}
	if err != nil {
		return nil, s.classify(req.MemberID, err)
	}

	// The staged coupon is advisory; losing this delete only leaves a stale entry that GetCart drops.
	if err := s.staged.Delete(ctx, req.MemberID); err != nil {
		log.Warn().Err(err).Int64("member_id", req.MemberID).Msg("failed to clear staged coupon after checkout")
	}

	resp := toOrderResponse(orders, primary, false)
	log.Info().
		Int64("member_id", req.MemberID).
		Str("order_number", resp.OrderNumber).
		Strs("order_numbers", resp.OrderNumbers).
		Int64("total_amount", resp.TotalAmount).
		Int64("used_points", resp.UsedPoints).
		Msg("checkout committed")

	return &model.CreateOrderResult{Success: true, Order: resp, Message: resp.Message}, nil
}

// classify passes user-correctable errors through and folds everything else into ErrCheckoutFailed.
func (s *OrderService) classify(memberID int64, err error) error {
	if isUserError(err) {
		return err
	}
	log.Error().Err(err).Int64("member_id", memberID).Msg("checkout failed")
	return fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
}

// buildOrders allocates shared amounts across vendor groups. Payment fee, coupon and points sit on
// the primary order only; points are capped at what the primary order still owes.
func (s *OrderService) buildOrders(plan *CheckoutPlan, req model.CheckoutRequest) ([]*model.Order, int) {
	groups := splitByVendor(plan.Cart.Lines)
	primary := primaryGroup(groups)

	subtotals := make([]int64, len(groups))
	for i, g := range groups {
		subtotals[i] = g.subtotal
	}
	summary := plan.Summary
	shipping := pricing.Allocate(summary.ShippingFee, subtotals, primary)
	discount := pricing.Allocate(summary.CouponDiscount, subtotals, primary)

	group := s.idGen()
	orders := make([]*model.Order, len(groups))
	for i, g := range groups {
		o := &model.Order{
			OrderNumber:    orderNumberPrefix + s.idGen(),
			CheckoutGroup:  group,
			MemberID:       plan.Member.ID,
			VendorID:       g.vendorID,
			DeliveryMethod: req.DeliveryMethod,
			PaymentMethod:  summary.PaymentMethod,
			Subtotal:       g.subtotal,
			ShippingFee:    shipping[i],
			DiscountAmount: discount[i],
			Status:         model.OrderPending,
			PaymentStatus:  model.PaymentPending,
		}
		if i == primary {
			o.PaymentFee = summary.PaymentFee
			o.CouponID = summary.CouponID
			payable := max(0, o.Subtotal+o.ShippingFee+o.PaymentFee-o.DiscountAmount)
			o.PointsDeduction = min(summary.PointsDeduction, payable)
			o.UsedPoints = o.PointsDeduction
		}
		o.TotalAmount = pricing.Total(o.Subtotal, o.ShippingFee, o.PaymentFee, o.DiscountAmount, o.PointsDeduction)
		for _, l := range g.lines {
			o.Lines = append(o.Lines, model.OrderLine{
				ProductID: l.ProductID,
				VariantID: l.VariantID,
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
				Subtotal:  l.Subtotal(),
			})
		}
		orders[i] = o
	}
	return orders, primary
}

func (s *OrderService) commit(ctx context.Context, tx pgx.Tx, plan *CheckoutPlan, req model.CheckoutRequest, orders []*model.Order, primary int) error {
	addr, err := s.resolveAddress(ctx, tx, req)
	if err != nil {
		return err
	}

	var spent int64
	for _, o := range orders {
		o.AddressID = addr.ID
		o.RecipientName = firstNonBlank(req.RecipientName, addr.RecipientName)
		o.Phone = firstNonBlank(req.Phone, addr.Phone)
		o.City = firstNonBlank(req.City, addr.City)
		o.District = firstNonBlank(req.District, addr.District)
		o.AddressDetail = firstNonBlank(req.AddressDetail, addr.Detail)

		if err := s.orders.Insert(ctx, tx, o); err != nil {
			return err
		}
		if err := s.orders.InsertLines(ctx, tx, o.ID, o.Lines); err != nil {
			return err
		}
		spent += o.TotalAmount
	}

	head := orders[primary]
	if plan.Redemption != nil {
		if err := s.coupons.MarkUsed(ctx, tx, plan.Redemption, head.ID); err != nil {
			return err
		}
	}
	if head.UsedPoints > 0 {
		_, err := s.ledger.ApplyInTx(ctx, tx, plan.Member.ID, model.LedgerUsed, model.PointsMutationRequest{
			Amount:           head.UsedPoints,
			Note:             "checkout",
			TransactionID:    head.OrderNumber,
			VerificationCode: "order:" + head.OrderNumber,
		})
		if err != nil {
			return err
		}
	}
	for _, o := range orders {
		for _, l := range o.Lines {
			if err := s.catalog.DecrementStock(ctx, tx, l.VariantID, l.Quantity); err != nil {
				return err
			}
		}
	}
	if err := s.points.AddTotalSpent(ctx, tx, plan.Member.ID, spent); err != nil {
		return err
	}
	consumed, err := s.carts.ConsumeLines(ctx, tx, plan.Member.ID, plan.Cart.Lines)
	if err != nil {
		return err
	}
	if consumed != int64(len(plan.Cart.Lines)) {
		return ErrCartChanged
	}
	return nil
}

// resolveAddress prefers the explicit address, then the default, then the first address, and
// finally stores a new default address from the request's recipient fields.
func (s *OrderService) resolveAddress(ctx context.Context, tx database.TxQuerier, req model.CheckoutRequest) (*model.Address, error) {
	if req.AddressID != nil {
		addr, err := s.members.GetAddress(ctx, tx, req.MemberID, *req.AddressID)
		if err != nil {
			return nil, err
		}
		if addr == nil {
			return nil, ErrAddressNotFound
		}
		return addr, nil
	}

	book, err := s.members.ListAddresses(ctx, tx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if len(book) > 0 {
		return &book[0], nil
	}

	for _, f := range []string{req.RecipientName, req.Phone, req.City, req.District, req.AddressDetail} {
		if strings.TrimSpace(f) == "" {
			return nil, ErrAddressUnresolvable
		}
	}
	addr := &model.Address{
		MemberID:      req.MemberID,
		RecipientName: strings.TrimSpace(req.RecipientName),
		Phone:         strings.TrimSpace(req.Phone),
		City:          strings.TrimSpace(req.City),
		District:      strings.TrimSpace(req.District),
		Detail:        strings.TrimSpace(req.AddressDetail),
		IsDefault:     true,
	}
	if err := s.members.InsertAddress(ctx, tx, addr); err != nil {
		return nil, err
	}
	return addr, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

// replay returns the committed result for key, or nil, nil if nothing was committed under it.
func (s *OrderService) replay(ctx context.Context, memberID int64, key string) (*model.CreateOrderResult, error) {
	head, err := s.orders.FindByCheckoutKey(ctx, memberID, key)
	if err != nil {
		return nil, s.classify(memberID, err)
	}
	if head == nil {
		return nil, nil
	}
	group, err := s.orders.ListByGroup(ctx, head.CheckoutGroup)
	if err != nil {
		return nil, s.classify(memberID, err)
	}

	orders := make([]*model.Order, len(group))
	primary := 0
	for i := range group {
		orders[i] = &group[i]
		if group[i].ID == head.ID {
			primary = i
		}
	}
	resp := toOrderResponse(orders, primary, true)
	log.Info().Int64("member_id", memberID).Str("order_number", resp.OrderNumber).Msg("checkout replayed")
	return &model.CreateOrderResult{Success: true, Order: resp, Message: resp.Message}, nil
}

func toOrderResponse(orders []*model.Order, primary int, replayed bool) *model.OrderResponse {
	head := orders[primary]
	resp := &model.OrderResponse{
		OrderID:      head.ID,
		OrderNumber:  head.OrderNumber,
		OrderNumbers: make([]string, 0, len(orders)),
		OrderCount:   len(orders),
		UsedPoints:   head.UsedPoints,
		Message:      fmt.Sprintf("built %d vendor orders", len(orders)),
		Replayed:     replayed,
	}
	for _, o := range orders {
		resp.OrderNumbers = append(resp.OrderNumbers, o.OrderNumber)
		resp.TotalAmount += o.TotalAmount
	}
	return resp
}
