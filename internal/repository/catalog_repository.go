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

// CatalogRepository reads products and variants and reserves stock at checkout.
type CatalogRepository struct {
	pool PoolInterface
}

// NewCatalogRepository creates a new CatalogRepository with the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// NewCatalogRepositoryWithPool creates a new CatalogRepository with a custom pool interface.
// This is primarily used for testing.
func NewCatalogRepositoryWithPool(pool PoolInterface) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariant returns the variant joined with its product, or nil, nil if the pair does not exist.
// A variant without its own price inherits the product price.
func (r *CatalogRepository) GetVariant(ctx context.Context, productID, variantID int64) (*model.Variant, error) {
	query := `SELECT v.id, p.id, p.name, v.name, p.vendor_id, COALESCE(v.price, p.price), v.stock, p.is_active
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = $1 AND p.id = $2`

	var v model.Variant
	err := r.pool.QueryRow(ctx, query, variantID, productID).Scan(
		&v.ID, &v.ProductID, &v.ProductName, &v.VariantName, &v.VendorID, &v.Price, &v.Stock, &v.ProductActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get variant %d/%d: %w", productID, variantID, err)
	}
	return &v, nil
}

// DecrementStock reserves qty units of a variant.
// Returns service.ErrInsufficientStock if the stock no longer covers qty.
func (r *CatalogRepository) DecrementStock(ctx context.Context, tx database.TxQuerier, variantID int64, qty int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE product_variants SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		variantID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock for variant %d: %w", variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("variant %d: %w", variantID, service.ErrInsufficientStock)
	}
	return nil
}
