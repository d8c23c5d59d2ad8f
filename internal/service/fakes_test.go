package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/pricing"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

// fakeData is the transactional part of fakeStore. Rollback restores a clone of it.
type fakeData struct {
	members     map[int64]model.Member
	addresses   []model.Address
	variants    map[int64]model.Variant
	cartLines   map[int64][]model.CartLine
	coupons     map[int64]model.Coupon
	redemptions []model.CouponRedemption
	orders      []model.Order
	balances    map[int64]model.MemberBalance
	ledger      []model.LedgerEntry
	nextID      int64
}

func (d *fakeData) clone() *fakeData {
	lines := make(map[int64][]model.CartLine, len(d.cartLines))
	for k, v := range d.cartLines {
		lines[k] = slices.Clone(v)
	}
	return &fakeData{
		members:     maps.Clone(d.members),
		addresses:   slices.Clone(d.addresses),
		variants:    maps.Clone(d.variants),
		cartLines:   lines,
		coupons:     maps.Clone(d.coupons),
		redemptions: slices.Clone(d.redemptions),
		orders:      slices.Clone(d.orders),
		balances:    maps.Clone(d.balances),
		ledger:      slices.Clone(d.ledger),
		nextID:      d.nextID,
	}
}

// fakeStore is an in-memory database shared by the fake repositories.
// Begin snapshots the data; Rollback without Commit restores the snapshot.
type fakeStore struct {
	*fakeData
	errLogs []model.PointsErrorLog
	now     func() time.Time
	onBegin func()
	txCount int
}

func newFakeStore(clock func() time.Time) *fakeStore {
	return &fakeStore{
		fakeData: &fakeData{
			members:   map[int64]model.Member{},
			variants:  map[int64]model.Variant{},
			cartLines: map[int64][]model.CartLine{},
			coupons:   map[int64]model.Coupon{},
			balances:  map[int64]model.MemberBalance{},
			nextID:    1000,
		},
		now: clock,
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txCount++
	if s.onBegin != nil {
		s.onBegin()
	}
	snapshot := s.fakeData.clone()
	done := false
	return &mockTx{
		commitFn: func(ctx context.Context) error {
			done = true
			return nil
		},
		rollbackFn: func(ctx context.Context) error {
			if !done {
				s.fakeData = snapshot
				done = true
			}
			return nil
		},
	}, nil
}

func (s *fakeStore) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *fakeStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fake store does not run SQL")
}

func (s *fakeStore) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

var _ database.DB = (*fakeStore)(nil)

// Seeding helpers.

func (s *fakeStore) addMember(id int64, levelID *int64) {
	s.members[id] = model.Member{ID: id, Name: fmt.Sprintf("member-%d", id), LevelID: levelID}
}

func (s *fakeStore) addVariant(v model.Variant) {
	if v.ProductName == "" {
		v.ProductName = fmt.Sprintf("product-%d", v.ProductID)
	}
	v.ProductActive = true
	s.variants[v.ID] = v
}

func (s *fakeStore) addCartLine(memberID, variantID int64, qty int) {
	v := s.variants[variantID]
	s.cartLines[memberID] = append(s.cartLines[memberID], model.CartLine{
		ID:        s.id(),
		CartID:    memberID,
		ProductID: v.ProductID,
		VariantID: v.ID,
		Quantity:  qty,
		UnitPrice: v.Price,
		CreatedAt: s.now(),
	})
}

func (s *fakeStore) setBalance(memberID, points int64) {
	b := s.balances[memberID]
	b.MemberID = memberID
	b.TotalPoints = points
	s.balances[memberID] = b
}

func (s *fakeStore) addCoupon(c model.Coupon) {
	if c.StartAt.IsZero() {
		c.StartAt = s.now().Add(-24 * time.Hour)
	}
	if c.ExpiredAt.IsZero() {
		c.ExpiredAt = s.now().Add(24 * time.Hour)
	}
	c.IsActive = true
	s.coupons[c.ID] = c
}

func (s *fakeStore) grant(memberID, couponID int64, code string) int64 {
	id := s.id()
	s.redemptions = append(s.redemptions, model.CouponRedemption{
		ID: id, MemberID: memberID, CouponID: couponID, Status: model.RedemptionActive,
		VerificationCode: code, CreatedAt: s.now(),
	})
	return id
}

func (s *fakeStore) entriesFor(memberID int64, typ model.LedgerType) []model.LedgerEntry {
	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.MemberID == memberID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// fakeMembers implements MemberRepositoryInterface.
type fakeMembers struct{ s *fakeStore }

func (f fakeMembers) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	m, ok := f.s.members[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f fakeMembers) ListAddresses(ctx context.Context, q database.TxQuerier, memberID int64) ([]model.Address, error) {
	var out []model.Address
	for _, a := range f.s.addresses {
		if a.MemberID == memberID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (f fakeMembers) GetAddress(ctx context.Context, q database.TxQuerier, memberID, addressID int64) (*model.Address, error) {
	for _, a := range f.s.addresses {
		if a.ID == addressID && a.MemberID == memberID {
			return &a, nil
		}
	}
	return nil, nil
}

func (f fakeMembers) InsertAddress(ctx context.Context, q database.TxQuerier, a *model.Address) error {
	a.ID = f.s.id()
	a.CreatedAt = f.s.now()
	f.s.addresses = append(f.s.addresses, *a)
	return nil
}

// fakeCatalog implements CatalogRepositoryInterface.
type fakeCatalog struct{ s *fakeStore }

func (f fakeCatalog) GetVariant(ctx context.Context, productID, variantID int64) (*model.Variant, error) {
	v, ok := f.s.variants[variantID]
	if !ok || v.ProductID != productID {
		return nil, nil
	}
	return &v, nil
}

func (f fakeCatalog) DecrementStock(ctx context.Context, tx database.TxQuerier, variantID int64, qty int) error {
	v, ok := f.s.variants[variantID]
	if !ok || v.Stock < qty {
		return fmt.Errorf("variant %d: %w", variantID, ErrInsufficientStock)
	}
	v.Stock -= qty
	f.s.variants[variantID] = v
	return nil
}

// fakeCarts implements CartRepositoryInterface. The cart id is the member id.
type fakeCarts struct{ s *fakeStore }

func (f fakeCarts) GetOrCreate(ctx context.Context, memberID int64) (int64, error) {
	return memberID, nil
}

func (f fakeCarts) GetCart(ctx context.Context, memberID int64) (*model.Cart, error) {
	cart := &model.Cart{ID: memberID, MemberID: memberID, Lines: []model.CartLine{}}
	for _, l := range f.s.cartLines[memberID] {
		v, ok := f.s.variants[l.VariantID]
		l.VariantExists = ok && v.ProductID == l.ProductID
		if l.VariantExists {
			l.ProductName = v.ProductName
			l.VariantName = v.VariantName
			l.VendorID = v.VendorID
			l.ProductActive = v.ProductActive
			l.CurrentPrice = v.Price
			l.Stock = v.Stock
		}
		cart.Lines = append(cart.Lines, l)
	}
	return cart, nil
}

func (f fakeCarts) UpsertLine(ctx context.Context, cartID, productID, variantID int64, qty int, unitPrice int64) (int64, error) {
	lines := f.s.cartLines[cartID]
	for i := range lines {
		if lines[i].ProductID == productID && lines[i].VariantID == variantID {
			lines[i].Quantity += qty
			return lines[i].ID, nil
		}
	}
	id := f.s.id()
	f.s.cartLines[cartID] = append(lines, model.CartLine{
		ID: id, CartID: cartID, ProductID: productID, VariantID: variantID,
		Quantity: qty, UnitPrice: unitPrice, CreatedAt: f.s.now(),
	})
	return id, nil
}

func (f fakeCarts) UpdateQuantity(ctx context.Context, memberID, lineID int64, qty int) error {
	lines := f.s.cartLines[memberID]
	for i := range lines {
		if lines[i].ID == lineID {
			lines[i].Quantity = qty
			return nil
		}
	}
	return ErrCartLineNotFound
}

func (f fakeCarts) DeleteLines(ctx context.Context, memberID int64, lineIDs []int64) (int64, error) {
	before := len(f.s.cartLines[memberID])
	f.s.cartLines[memberID] = slices.DeleteFunc(f.s.cartLines[memberID], func(l model.CartLine) bool {
		return slices.Contains(lineIDs, l.ID)
	})
	return int64(before - len(f.s.cartLines[memberID])), nil
}

func (f fakeCarts) ConsumeLines(ctx context.Context, tx database.TxQuerier, memberID int64, lines []model.CartLine) (int64, error) {
	before := len(f.s.cartLines[memberID])
	f.s.cartLines[memberID] = slices.DeleteFunc(f.s.cartLines[memberID], func(l model.CartLine) bool {
		return slices.ContainsFunc(lines, func(c model.CartLine) bool {
			return c.ID == l.ID && c.Quantity == l.Quantity
		})
	})
	return int64(before - len(f.s.cartLines[memberID])), nil
}

func (f fakeCarts) Clear(ctx context.Context, q database.TxQuerier, memberID int64) error {
	delete(f.s.cartLines, memberID)
	return nil
}

// fakeCoupons implements CouponRepositoryInterface.
type fakeCoupons struct{ s *fakeStore }

func (f fakeCoupons) GetByID(ctx context.Context, id int64) (*model.Coupon, error) {
	c, ok := f.s.coupons[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f fakeCoupons) GetCouponForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error) {
	c, ok := f.s.coupons[id]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return &c, nil
}

func (f fakeCoupons) IncrementClaimed(ctx context.Context, tx database.TxQuerier, id int64) error {
	c := f.s.coupons[id]
	c.ClaimedCount++
	f.s.coupons[id] = c
	return nil
}

// fakeRedemptions implements RedemptionRepositoryInterface.
type fakeRedemptions struct{ s *fakeStore }

func (f fakeRedemptions) Insert(ctx context.Context, tx database.TxQuerier, r *model.CouponRedemption) error {
	for _, existing := range f.s.redemptions {
		if existing.MemberID == r.MemberID && existing.CouponID == r.CouponID {
			return ErrAlreadyClaimed
		}
	}
	r.ID = f.s.id()
	r.CreatedAt = f.s.now()
	f.s.redemptions = append(f.s.redemptions, *r)
	return nil
}

func (f fakeRedemptions) find(match func(model.CouponRedemption) bool) *model.RedemptionWithCoupon {
	for _, r := range f.s.redemptions {
		if match(r) {
			return &model.RedemptionWithCoupon{Redemption: r, Coupon: f.s.coupons[r.CouponID]}
		}
	}
	return nil
}

func (f fakeRedemptions) FindByCouponID(ctx context.Context, memberID, couponID int64) (*model.RedemptionWithCoupon, error) {
	return f.find(func(r model.CouponRedemption) bool { return r.MemberID == memberID && r.CouponID == couponID }), nil
}

func (f fakeRedemptions) FindByVerificationCode(ctx context.Context, memberID int64, code string) (*model.RedemptionWithCoupon, error) {
	return f.find(func(r model.CouponRedemption) bool { return r.MemberID == memberID && r.VerificationCode == code }), nil
}

func (f fakeRedemptions) ListByMember(ctx context.Context, memberID int64) ([]model.RedemptionWithCoupon, error) {
	out := []model.RedemptionWithCoupon{}
	for i := len(f.s.redemptions) - 1; i >= 0; i-- {
		r := f.s.redemptions[i]
		if r.MemberID == memberID {
			out = append(out, model.RedemptionWithCoupon{Redemption: r, Coupon: f.s.coupons[r.CouponID]})
		}
	}
	return out, nil
}

func (f fakeRedemptions) MarkUsed(ctx context.Context, tx database.TxQuerier, redemptionID, couponID, orderID int64, usedAt time.Time) error {
	for i := range f.s.redemptions {
		r := &f.s.redemptions[i]
		if r.ID != redemptionID {
			continue
		}
		if r.Status != model.RedemptionActive {
			return ErrCouponAlreadyUsed
		}
		c := f.s.coupons[couponID]
		if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
			return ErrCouponExhausted
		}
		c.UsedCount++
		f.s.coupons[couponID] = c
		r.Status = model.RedemptionUsed
		r.OrderID = &orderID
		r.UsedAt = &usedAt
		return nil
	}
	return ErrCouponAlreadyUsed
}

// fakeOrders implements OrderRepositoryInterface.
type fakeOrders struct{ s *fakeStore }

func (f fakeOrders) Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error {
	if o.CheckoutKey != nil {
		for _, existing := range f.s.orders {
			if existing.MemberID == o.MemberID && existing.CheckoutKey != nil && *existing.CheckoutKey == *o.CheckoutKey {
				return ErrDuplicateCheckout
			}
		}
	}
	o.ID = f.s.id()
	o.CreatedAt = f.s.now()
	o.UpdatedAt = o.CreatedAt
	f.s.orders = append(f.s.orders, *o)
	return nil
}

func (f fakeOrders) InsertLines(ctx context.Context, tx database.TxQuerier, orderID int64, lines []model.OrderLine) error {
	for i := range f.s.orders {
		if f.s.orders[i].ID == orderID {
			f.s.orders[i].Lines = slices.Clone(lines)
			return nil
		}
	}
	return fmt.Errorf("order %d not found", orderID)
}

func (f fakeOrders) FindByCheckoutKey(ctx context.Context, memberID int64, key string) (*model.Order, error) {
	for _, o := range f.s.orders {
		if o.MemberID == memberID && o.CheckoutKey != nil && *o.CheckoutKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (f fakeOrders) ListByGroup(ctx context.Context, group string) ([]model.Order, error) {
	out := []model.Order{}
	for _, o := range f.s.orders {
		if o.CheckoutGroup == group {
			out = append(out, o)
		}
	}
	return out, nil
}

// fakePoints implements PointsRepositoryInterface.
type fakePoints struct{ s *fakeStore }

func (f fakePoints) FindByVerificationCode(ctx context.Context, q database.TxQuerier, code string) (*model.LedgerEntry, error) {
	for _, e := range f.s.ledger {
		if e.VerificationCode == code {
			return &e, nil
		}
	}
	return nil, nil
}

func (f fakePoints) GetBalance(ctx context.Context, q database.TxQuerier, memberID int64) (*model.MemberBalance, error) {
	b := f.s.balances[memberID]
	b.MemberID = memberID
	return &b, nil
}

func (f fakePoints) Credit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error) {
	b := f.s.balances[memberID]
	b.MemberID = memberID
	b.TotalPoints += amount
	f.s.balances[memberID] = b
	return b.TotalPoints, nil
}

func (f fakePoints) Debit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error) {
	b, ok := f.s.balances[memberID]
	if !ok || b.TotalPoints < amount {
		return 0, ErrInsufficientBalance
	}
	b.TotalPoints -= amount
	f.s.balances[memberID] = b
	return b.TotalPoints, nil
}

func (f fakePoints) InsertEntry(ctx context.Context, tx database.TxQuerier, e *model.LedgerEntry) error {
	if e.VerificationCode != "" {
		for _, existing := range f.s.ledger {
			if existing.VerificationCode == e.VerificationCode {
				return ErrAlreadyApplied
			}
		}
	}
	e.ID = f.s.id()
	e.CreatedAt = f.s.now()
	f.s.ledger = append(f.s.ledger, *e)
	return nil
}

func (f fakePoints) AddTotalSpent(ctx context.Context, tx database.TxQuerier, memberID, amount int64) error {
	b := f.s.balances[memberID]
	b.MemberID = memberID
	b.TotalSpent += amount
	f.s.balances[memberID] = b
	return nil
}

func (f fakePoints) SumByType(ctx context.Context, memberID int64) (map[model.LedgerType]int64, error) {
	sums := map[model.LedgerType]int64{}
	for _, e := range f.s.ledger {
		if e.MemberID == memberID {
			sums[e.Type] += e.Amount
		}
	}
	return sums, nil
}

func (f fakePoints) ListEntries(ctx context.Context, memberID int64, limit int) ([]model.LedgerEntry, error) {
	out := []model.LedgerEntry{}
	for i := len(f.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if f.s.ledger[i].MemberID == memberID {
			out = append(out, f.s.ledger[i])
		}
	}
	return out, nil
}

func (f fakePoints) ListSigninSince(ctx context.Context, memberID int64, since time.Time) ([]model.LedgerEntry, error) {
	out := []model.LedgerEntry{}
	for i := len(f.s.ledger) - 1; i >= 0; i-- {
		e := f.s.ledger[i]
		if e.MemberID == memberID && e.Type == model.LedgerSignin && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeErrLog implements ErrorLogRepositoryInterface. Records survive rollback.
type fakeErrLog struct{ s *fakeStore }

func (f fakeErrLog) Insert(ctx context.Context, entry *model.PointsErrorLog) error {
	f.s.errLogs = append(f.s.errLogs, *entry)
	return nil
}

// testEnv wires every service over one fakeStore.
type testEnv struct {
	store    *fakeStore
	clock    *time.Time
	staged   *MemoryStagedCouponStore
	coupons  *CouponService
	points   *PointsService
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
	checkin  *CheckinService
}

func newTestEnv(start time.Time) *testEnv {
	now := start
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	staged := NewMemoryStagedCouponStore(clock)

	coupons := NewCouponServiceWithTxBeginner(store, fakeCoupons{store}, fakeRedemptions{store})
	coupons.now = clock

	points := NewPointsService(store, fakeMembers{store}, fakePoints{store}, fakeErrLog{store})
	policy := pricing.DefaultPolicy()

	carts := NewCartService(CartDeps{
		DB:      store,
		Members: fakeMembers{store},
		Carts:   fakeCarts{store},
		Catalog: fakeCatalog{store},
		Coupons: coupons,
		Staged:  staged,
		Policy:  policy,
		Clock:   clock,
	})
	checkout := NewCheckoutService(CheckoutDeps{
		DB:      store,
		Members: fakeMembers{store},
		Carts:   fakeCarts{store},
		Points:  fakePoints{store},
		Coupons: coupons,
		Staged:  staged,
		Policy:  policy,
	})
	seq := 0
	orders := NewOrderService(OrderDeps{
		DB:       store,
		Checkout: checkout,
		Coupons:  coupons,
		Ledger:   points,
		Members:  fakeMembers{store},
		Orders:   fakeOrders{store},
		Catalog:  fakeCatalog{store},
		Carts:    fakeCarts{store},
		Points:   fakePoints{store},
		Staged:   staged,
		IDGen: func() string {
			seq++
			return fmt.Sprintf("ID%04d", seq)
		},
	})
	checkin := NewCheckinService(CheckinDeps{
		DB:           store,
		Members:      fakeMembers{store},
		Points:       fakePoints{store},
		Ledger:       points,
		Location:     time.UTC,
		LookbackDays: 60,
		Clock:        clock,
	})

	return &testEnv{
		store:    store,
		clock:    &now,
		staged:   staged,
		coupons:  coupons,
		points:   points,
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		checkin:  checkin,
	}
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

func int64Ptr(v int64) *int64 {
	return &v
}
