package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// seedSplitCart puts a 700 line from vendor 5 and a 300 line from vendor 6 in member 1's cart.
func seedSplitCart(s *fakeStore) {
	s.addMember(1, nil)
	s.addVariant(model.Variant{ID: 21, ProductID: 2, Price: 700, Stock: 3, VendorID: int64Ptr(5)})
	s.addVariant(model.Variant{ID: 31, ProductID: 3, Price: 300, Stock: 3, VendorID: int64Ptr(6)})
	s.addCartLine(1, 21, 1)
	s.addCartLine(1, 31, 1)
}

func homeDelivery() model.CheckoutRequest {
	return model.CheckoutRequest{
		MemberID:       1,
		RecipientName:  "Lin",
		Phone:          "0912345678",
		City:           "Taipei",
		District:       "Da'an",
		AddressDetail:  "No. 1, Sec. 4",
		DeliveryMethod: model.DeliveryHome,
		PaymentMethod:  "credit_card",
	}
}

func TestOrderService_CreateOrder_SplitConservesTotals(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)

	res, err := env.orders.CreateOrder(context.Background(), homeDelivery())

	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, env.store.orders, 2)
	a, b := env.store.orders[0], env.store.orders[1]
	assert.Equal(t, int64(5), *a.VendorID)
	assert.Equal(t, int64(6), *b.VendorID)
	assert.Equal(t, int64(1000), a.Subtotal+b.Subtotal)
	assert.Equal(t, int64(60), a.ShippingFee+b.ShippingFee)
	assert.Equal(t, int64(42), a.ShippingFee)
	assert.Equal(t, int64(18), b.ShippingFee)
	assert.Equal(t, a.CheckoutGroup, b.CheckoutGroup)

	assert.Equal(t, 2, res.Order.OrderCount)
	assert.Equal(t, int64(1060), res.Order.TotalAmount)
	assert.Equal(t, "built 2 vendor orders", res.Message)
	assert.Equal(t, a.OrderNumber, res.Order.OrderNumber)
}

func TestOrderService_CreateOrder_PrimaryCarriesCouponAndPoints(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	seedCoupon(env.store, 1)
	env.store.setBalance(1, 500)
	req := homeDelivery()
	req.CouponCode = "SPRING100"
	req.UsedPoints = 100

	res, err := env.orders.CreateOrder(context.Background(), req)

	require.NoError(t, err)
	a, b := env.store.orders[0], env.store.orders[1]
	assert.Equal(t, int64(70), a.DiscountAmount)
	assert.Equal(t, int64(30), b.DiscountAmount)
	require.NotNil(t, a.CouponID)
	assert.Nil(t, b.CouponID)
	assert.Equal(t, int64(100), a.UsedPoints)
	assert.Zero(t, b.UsedPoints)
	assert.Equal(t, int64(572), a.TotalAmount)
	assert.Equal(t, int64(288), b.TotalAmount)
	assert.Equal(t, int64(860), res.Order.TotalAmount)
	assert.Equal(t, int64(100), res.Order.UsedPoints)

	redemption := env.store.redemptions[0]
	assert.Equal(t, model.RedemptionUsed, redemption.Status)
	require.NotNil(t, redemption.OrderID)
	assert.Equal(t, a.ID, *redemption.OrderID)
	assert.Equal(t, 1, env.store.coupons[7].UsedCount)

	used := env.store.entriesFor(1, model.LedgerUsed)
	require.Len(t, used, 1)
	assert.Equal(t, int64(100), used[0].Amount)
	assert.Equal(t, "order:"+a.OrderNumber, used[0].VerificationCode)
	assert.Equal(t, int64(400), env.store.balances[1].TotalPoints)
	assert.Equal(t, int64(860), env.store.balances[1].TotalSpent)

	assert.Equal(t, 2, env.store.variants[21].Stock)
	assert.Equal(t, 2, env.store.variants[31].Stock)
	assert.Empty(t, env.store.cartLines[1])
	require.Len(t, a.Lines, 1)
	assert.Equal(t, int64(700), a.Lines[0].Subtotal)
}

func TestOrderService_CreateOrder_StockFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	seedCoupon(env.store, 1)
	env.store.setBalance(1, 500)
	// A concurrent checkout takes the last units after validation passed.
	env.store.onBegin = func() {
		v := env.store.variants[31]
		v.Stock = 0
		env.store.variants[31] = v
	}
	req := homeDelivery()
	req.CouponCode = "SPRING100"
	req.UsedPoints = 100

	res, err := env.orders.CreateOrder(context.Background(), req)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, env.store.orders)
	assert.Empty(t, env.store.ledger)
	assert.Empty(t, env.store.addresses)
	assert.Equal(t, model.RedemptionActive, env.store.redemptions[0].Status)
	assert.Zero(t, env.store.coupons[7].UsedCount)
	assert.Equal(t, int64(500), env.store.balances[1].TotalPoints)
	assert.Zero(t, env.store.balances[1].TotalSpent)
	assert.Equal(t, 3, env.store.variants[21].Stock)
	assert.Len(t, env.store.cartLines[1], 2)
}

func TestOrderService_CreateOrder_KeepsLineAddedDuringCommit(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	env.store.addVariant(model.Variant{ID: 41, ProductID: 4, Price: 250, Stock: 5, VendorID: int64Ptr(5)})
	// The member adds a line from another tab after the cart was priced.
	env.store.onBegin = func() {
		env.store.addCartLine(1, 41, 2)
	}

	res, err := env.orders.CreateOrder(context.Background(), homeDelivery())

	require.NoError(t, err)
	assert.Equal(t, int64(1060), res.Order.TotalAmount)
	for _, o := range env.store.orders {
		for _, l := range o.Lines {
			assert.NotEqual(t, int64(41), l.VariantID)
		}
	}
	require.Len(t, env.store.cartLines[1], 1)
	assert.Equal(t, int64(41), env.store.cartLines[1][0].VariantID)
	assert.Equal(t, 2, env.store.cartLines[1][0].Quantity)
	assert.Equal(t, 5, env.store.variants[41].Stock)
}

func TestOrderService_CreateOrder_ResizedLineRollsBack(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	env.store.setBalance(1, 500)
	env.store.onBegin = func() {
		env.store.cartLines[1][1].Quantity = 3
	}
	req := homeDelivery()
	req.UsedPoints = 100

	res, err := env.orders.CreateOrder(context.Background(), req)

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrCartChanged)
	assert.NotErrorIs(t, err, ErrCheckoutFailed)
	assert.Empty(t, env.store.orders)
	assert.Empty(t, env.store.ledger)
	assert.Equal(t, int64(500), env.store.balances[1].TotalPoints)
	assert.Equal(t, 3, env.store.variants[21].Stock)
	assert.Equal(t, 3, env.store.variants[31].Stock)
	require.Len(t, env.store.cartLines[1], 2)
	assert.Equal(t, 3, env.store.cartLines[1][1].Quantity)
}

// brokenOrders fails order line inserts with a system error.
type brokenOrders struct {
	fakeOrders
}

func (b brokenOrders) InsertLines(ctx context.Context, tx database.TxQuerier, orderID int64, lines []model.OrderLine) error {
	return errors.New("connection reset")
}

func TestOrderService_CreateOrder_SystemFailureIsWrapped(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	svc := NewOrderService(OrderDeps{
		DB:       env.store,
		Checkout: env.checkout,
		Coupons:  env.coupons,
		Ledger:   env.points,
		Members:  fakeMembers{env.store},
		Orders:   brokenOrders{fakeOrders{env.store}},
		Catalog:  fakeCatalog{env.store},
		Carts:    fakeCarts{env.store},
		Points:   fakePoints{env.store},
		Staged:   env.staged,
	})

	_, err := svc.CreateOrder(context.Background(), homeDelivery())

	assert.ErrorIs(t, err, ErrCheckoutFailed)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, env.store.orders)
	assert.Len(t, env.store.cartLines[1], 2)
}

func TestOrderService_CreateOrder_IdempotencyKeyReplays(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	req := homeDelivery()
	req.IdempotencyKey = "checkout-1"
	ctx := context.Background()

	first, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Order.Replayed)
	assert.True(t, second.Order.Replayed)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)
	assert.ElementsMatch(t, first.Order.OrderNumbers, second.Order.OrderNumbers)
	assert.Equal(t, first.Order.TotalAmount, second.Order.TotalAmount)
	assert.Len(t, env.store.orders, 2)
}

func TestOrderService_CreateOrder_IdempotencyKeyIsPerMember(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	env.store.addMember(2, nil)
	env.store.addCartLine(2, 21, 1)
	ctx := context.Background()

	req := homeDelivery()
	req.IdempotencyKey = "checkout-1"
	first, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	req.MemberID = 2
	other, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.False(t, other.Order.Replayed)
	assert.NotEqual(t, first.Order.OrderNumber, other.Order.OrderNumber)
	assert.Len(t, env.store.orders, 3)
	assert.Empty(t, env.store.cartLines[2])
}

// laggingOrders misses the first checkout-key lookup, as a request that read before a concurrent commit would.
type laggingOrders struct {
	fakeOrders
	missed bool
}

func (l *laggingOrders) FindByCheckoutKey(ctx context.Context, memberID int64, key string) (*model.Order, error) {
	if !l.missed {
		l.missed = true
		return nil, nil
	}
	return l.fakeOrders.FindByCheckoutKey(ctx, memberID, key)
}

func TestOrderService_CreateOrder_ReplaysAfterConcurrentCommitClearedCart(t *testing.T) {
	env := newTestEnv(testStart)
	seedSplitCart(env.store)
	req := homeDelivery()
	req.IdempotencyKey = "checkout-2"
	ctx := context.Background()

	first, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	require.Empty(t, env.store.cartLines[1])

	svc := NewOrderService(OrderDeps{
		DB:       env.store,
		Checkout: env.checkout,
		Coupons:  env.coupons,
		Ledger:   env.points,
		Members:  fakeMembers{env.store},
		Orders:   &laggingOrders{fakeOrders: fakeOrders{env.store}},
		Catalog:  fakeCatalog{env.store},
		Carts:    fakeCarts{env.store},
		Points:   fakePoints{env.store},
		Staged:   env.staged,
	})
	second, err := svc.CreateOrder(ctx, req)

	require.NoError(t, err)
	assert.True(t, second.Order.Replayed)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)
	assert.Len(t, env.store.orders, 2)
}

func TestOrderService_CreateOrder_ValidationErrorsPassThrough(t *testing.T) {
	env := newTestEnv(testStart)
	env.store.addMember(1, nil)

	_, err := env.orders.CreateOrder(context.Background(), homeDelivery())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.IssueCartEmpty, verr.Issues[0].Code)
	assert.NotErrorIs(t, err, ErrCheckoutFailed)
}

func TestOrderService_CreateOrder_SingleVendorTakesEverything(t *testing.T) {
	env := newTestEnv(testStart)
	env.store.addMember(1, nil)
	seedCatalog(env.store)
	env.store.addCartLine(1, 11, 2)
	req := homeDelivery()
	req.PaymentMethod = "cod"

	res, err := env.orders.CreateOrder(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, env.store.orders, 1)
	o := env.store.orders[0]
	assert.Nil(t, o.VendorID)
	assert.Equal(t, int64(60), o.ShippingFee)
	assert.Equal(t, int64(30), o.PaymentFee)
	assert.Equal(t, int64(690), o.TotalAmount)
	assert.Equal(t, "cod", o.PaymentMethod)
	assert.Equal(t, 1, res.Order.OrderCount)
}

func TestOrderService_ResolveAddress(t *testing.T) {
	t.Run("default address wins over request fields for the address id", func(t *testing.T) {
		env := newTestEnv(testStart)
		seedSplitCart(env.store)
		env.store.addresses = []model.Address{
			{ID: 1, MemberID: 1, RecipientName: "Old", City: "Tainan"},
			{ID: 2, MemberID: 1, RecipientName: "Home", City: "Hsinchu", IsDefault: true},
		}
		req := homeDelivery()
		req.City = ""

		_, err := env.orders.CreateOrder(context.Background(), req)

		require.NoError(t, err)
		o := env.store.orders[0]
		assert.Equal(t, int64(2), o.AddressID)
		assert.Equal(t, "Lin", o.RecipientName, "request field overrides the stored one")
		assert.Equal(t, "Hsinchu", o.City, "blank request field falls back to the address")
	})

	t.Run("explicit id of another member", func(t *testing.T) {
		env := newTestEnv(testStart)
		seedSplitCart(env.store)
		env.store.addresses = []model.Address{{ID: 9, MemberID: 2}}
		req := homeDelivery()
		req.AddressID = int64Ptr(9)

		_, err := env.orders.CreateOrder(context.Background(), req)

		assert.ErrorIs(t, err, ErrAddressNotFound)
		assert.Empty(t, env.store.orders)
	})

	t.Run("no address book stores a new default", func(t *testing.T) {
		env := newTestEnv(testStart)
		seedSplitCart(env.store)

		_, err := env.orders.CreateOrder(context.Background(), homeDelivery())

		require.NoError(t, err)
		require.Len(t, env.store.addresses, 1)
		assert.True(t, env.store.addresses[0].IsDefault)
		assert.Equal(t, env.store.addresses[0].ID, env.store.orders[0].AddressID)
	})

	t.Run("no address book and incomplete request", func(t *testing.T) {
		env := newTestEnv(testStart)
		seedSplitCart(env.store)
		req := homeDelivery()
		req.Phone = "  "

		_, err := env.orders.CreateOrder(context.Background(), req)

		assert.ErrorIs(t, err, ErrAddressUnresolvable)
		assert.NotErrorIs(t, err, ErrCheckoutFailed)
		assert.Empty(t, env.store.orders)
		assert.Len(t, env.store.cartLines[1], 2)
	})
}

func TestSplitByVendor_OrderAndPrimary(t *testing.T) {
	lines := []model.CartLine{
		{ID: 1, VendorID: int64Ptr(9), UnitPrice: 100, Quantity: 1},
		{ID: 2, UnitPrice: 50, Quantity: 1},
		{ID: 3, VendorID: int64Ptr(4), UnitPrice: 100, Quantity: 1},
		{ID: 4, VendorID: int64Ptr(9), UnitPrice: 10, Quantity: 1},
	}

	groups := splitByVendor(lines)

	require.Len(t, groups, 3)
	assert.Nil(t, groups[0].vendorID)
	assert.Equal(t, int64(4), *groups[1].vendorID)
	assert.Equal(t, int64(9), *groups[2].vendorID)
	assert.Equal(t, int64(110), groups[2].subtotal)
	assert.Equal(t, 2, primaryGroup(groups))

	tied := splitByVendor(lines[1:3])
	assert.Equal(t, 1, primaryGroup(tied), "vendor 4 beats platform on subtotal")
	tied[0].subtotal = 100
	assert.Equal(t, 0, primaryGroup(tied), "ties go to the earlier group")
}
