package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

// CartRepository provides data access for carts and cart lines using pgx.
type CartRepository struct {
	pool PoolInterface
}

// NewCartRepository creates a new CartRepository with the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// NewCartRepositoryWithPool creates a new CartRepository with a custom pool interface.
// This is primarily used for testing.
func NewCartRepositoryWithPool(pool PoolInterface) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOrCreate returns the member's cart id, creating the cart on first use.
func (r *CartRepository) GetOrCreate(ctx context.Context, memberID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO carts (member_id) VALUES ($1)
		ON CONFLICT (member_id) DO UPDATE SET updated_at = NOW()
		RETURNING id`,
		memberID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("get or create cart for member %d: %w", memberID, err)
	}
	return id, nil
}

// GetCart loads the member's lines in insertion order, joined with the current catalog state.
// A member without a cart gets an empty cart.
func (r *CartRepository) GetCart(ctx context.Context, memberID int64) (*model.Cart, error) {
	query := `SELECT l.id, l.cart_id, l.product_id, l.variant_id, l.quantity, l.unit_price, l.created_at,
			COALESCE(p.name, ''), COALESCE(v.name, ''), p.vendor_id, COALESCE(p.is_active, FALSE),
			v.id IS NOT NULL, COALESCE(v.price, p.price, 0), COALESCE(v.stock, 0)
		FROM carts c
		JOIN cart_lines l ON l.cart_id = c.id
		LEFT JOIN products p ON p.id = l.product_id
		LEFT JOIN product_variants v ON v.id = l.variant_id AND v.product_id = l.product_id
		WHERE c.member_id = $1
		ORDER BY l.created_at, l.id`

	rows, err := r.pool.Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("get cart for member %d: %w", memberID, err)
	}
	defer rows.Close()

	cart := &model.Cart{MemberID: memberID, Lines: []model.CartLine{}}
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(
			&l.ID, &l.CartID, &l.ProductID, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.CreatedAt,
			&l.ProductName, &l.VariantName, &l.VendorID, &l.ProductActive,
			&l.VariantExists, &l.CurrentPrice, &l.Stock,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		cart.ID = l.CartID
		cart.Lines = append(cart.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart rows: %w", err)
	}
	return cart, nil
}

// UpsertLine adds qty to the (product, variant) line, creating it at unitPrice if absent.
// An existing line keeps its original unit price.
func (r *CartRepository) UpsertLine(ctx context.Context, cartID, productID, variantID int64, qty int, unitPrice int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cart_lines (cart_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, product_id, variant_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		RETURNING id`,
		cartID, productID, variantID, qty, unitPrice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert cart line: %w", err)
	}
	return id, nil
}

// UpdateQuantity sets the quantity of one of the member's lines.
// Returns service.ErrCartLineNotFound if the line is not in the member's cart.
func (r *CartRepository) UpdateQuantity(ctx context.Context, memberID, lineID int64, qty int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE cart_lines l SET quantity = $3
		FROM carts c
		WHERE l.id = $2 AND l.cart_id = c.id AND c.member_id = $1`,
		memberID, lineID, qty)
	if err != nil {
		return fmt.Errorf("update cart line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrCartLineNotFound
	}
	return nil
}

// DeleteLines removes the given lines from the member's cart and reports how many were removed.
func (r *CartRepository) DeleteLines(ctx context.Context, memberID int64, lineIDs []int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_lines l USING carts c
		WHERE l.cart_id = c.id AND c.member_id = $1 AND l.id = ANY($2)`,
		memberID, lineIDs)
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ConsumeLines deletes the checked-out lines inside tx. A line only matches while it still holds
// the quantity it was priced with, so the affected count falls short if the cart moved meanwhile.
func (r *CartRepository) ConsumeLines(ctx context.Context, tx database.TxQuerier, memberID int64, lines []model.CartLine) (int64, error) {
	ids := make([]int64, len(lines))
	qtys := make([]int32, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
		qtys[i] = int32(l.Quantity)
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM cart_lines l
		USING carts c, unnest($2::bigint[], $3::int[]) AS o(id, quantity)
		WHERE l.cart_id = c.id AND c.member_id = $1 AND l.id = o.id AND l.quantity = o.quantity`,
		memberID, ids, qtys)
	if err != nil {
		return 0, fmt.Errorf("consume cart lines for member %d: %w", memberID, err)
	}
	return tag.RowsAffected(), nil
}

// Clear removes every line from the member's cart.
func (r *CartRepository) Clear(ctx context.Context, q database.TxQuerier, memberID int64) error {
	_, err := q.Exec(ctx,
		`DELETE FROM cart_lines WHERE cart_id IN (SELECT id FROM carts WHERE member_id = $1)`,
		memberID)
	if err != nil {
		return fmt.Errorf("clear cart for member %d: %w", memberID, err)
	}
	return nil
}
