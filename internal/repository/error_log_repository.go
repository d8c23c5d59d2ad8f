package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// ErrorLogRepository writes the points side-channel error log.
// It always uses the pool so the record survives the caller's rollback.
type ErrorLogRepository struct {
	pool PoolInterface
}

// NewErrorLogRepository creates a new ErrorLogRepository with the given pool.
func NewErrorLogRepository(pool *pgxpool.Pool) *ErrorLogRepository {
	return &ErrorLogRepository{pool: pool}
}

// NewErrorLogRepositoryWithPool creates a new ErrorLogRepository with a custom pool interface.
// This is primarily used for testing.
func NewErrorLogRepositoryWithPool(pool PoolInterface) *ErrorLogRepository {
	return &ErrorLogRepository{pool: pool}
}

// Insert stores one error record. The payload is stored as JSONB.
func (r *ErrorLogRepository) Insert(ctx context.Context, entry *model.PointsErrorLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO points_error_logs (member_id, operation, error_detail, payload) VALUES ($1, $2, $3, $4)`,
		entry.MemberID, entry.Operation, entry.Detail, entry.Payload)
	if err != nil {
		return fmt.Errorf("insert points error log: %w", err)
	}
	return nil
}
