package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const orderColumns = `id, order_number, checkout_group, checkout_key, member_id, vendor_id, address_id,
	recipient_name, phone, city, district, address_detail, delivery_method, payment_method,
	subtotal, shipping_fee, discount_amount, points_deduction, payment_fee, total_amount,
	coupon_id, used_points, status, payment_status, created_at, updated_at`

// OrderRepository provides data access for orders using pgx.
type OrderRepository struct {
	pool PoolInterface
}

// NewOrderRepository creates a new OrderRepository with the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NewOrderRepositoryWithPool creates a new OrderRepository with a custom pool interface.
// This is primarily used for testing.
func NewOrderRepositoryWithPool(pool PoolInterface) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status, paymentStatus string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CheckoutGroup, &o.CheckoutKey, &o.MemberID, &o.VendorID, &o.AddressID,
		&o.RecipientName, &o.Phone, &o.City, &o.District, &o.AddressDetail, &o.DeliveryMethod, &o.PaymentMethod,
		&o.Subtotal, &o.ShippingFee, &o.DiscountAmount, &o.PointsDeduction, &o.PaymentFee, &o.TotalAmount,
		&o.CouponID, &o.UsedPoints, &status, &paymentStatus, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &o, nil
}

// Insert inserts an order header within a transaction and fills in its id and timestamps.
// Returns service.ErrDuplicateCheckout if the checkout key was already committed.
func (r *OrderRepository) Insert(ctx context.Context, tx database.TxQuerier, o *model.Order) error {
	query := `INSERT INTO orders (
			order_number, checkout_group, checkout_key, member_id, vendor_id, address_id,
			recipient_name, phone, city, district, address_detail, delivery_method, payment_method,
			subtotal, shipping_fee, discount_amount, points_deduction, payment_fee, total_amount,
			coupon_id, used_points, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		o.OrderNumber, o.CheckoutGroup, o.CheckoutKey, o.MemberID, o.VendorID, o.AddressID,
		o.RecipientName, o.Phone, o.City, o.District, o.AddressDetail, o.DeliveryMethod, o.PaymentMethod,
		o.Subtotal, o.ShippingFee, o.DiscountAmount, o.PointsDeduction, o.PaymentFee, o.TotalAmount,
		o.CouponID, o.UsedPoints, string(o.Status), string(o.PaymentStatus),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "orders_member_id_checkout_key_key") {
			return service.ErrDuplicateCheckout
		}
		return fmt.Errorf("insert order %s: %w", o.OrderNumber, err)
	}
	return nil
}

// InsertLines stores the order's lines within a transaction.
func (r *OrderRepository) InsertLines(ctx context.Context, tx database.TxQuerier, orderID int64, lines []model.OrderLine) error {
	for i := range lines {
		l := &lines[i]
		l.OrderID = orderID
		err := tx.QueryRow(ctx,
			`INSERT INTO order_lines (order_id, product_id, variant_id, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			orderID, l.ProductID, l.VariantID, l.UnitPrice, l.Quantity, l.Subtotal).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("insert order line for order %d: %w", orderID, err)
		}
	}
	return nil
}

// FindByCheckoutKey returns the primary order committed under key, or nil.
func (r *OrderRepository) FindByCheckoutKey(ctx context.Context, memberID int64, key string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE member_id = $1 AND checkout_key = $2`,
		memberID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find order by checkout key: %w", err)
	}
	return o, nil
}

// ListByGroup returns every order produced by one checkout, in creation order.
func (r *OrderRepository) ListByGroup(ctx context.Context, group string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE checkout_group = $1 ORDER BY id`,
		group)
	if err != nil {
		return nil, fmt.Errorf("list orders in group %s: %w", group, err)
	}
	defer rows.Close()

	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return out, nil
}
