package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/internal/service"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const ledgerColumns = `id, member_id, type, amount, before_balance, after_balance,
	COALESCE(note, ''), COALESCE(transaction_id, ''), COALESCE(verification_code, ''), created_at`

// PointsRepository provides data access for the points ledger and the cached member balance.
type PointsRepository struct {
	pool PoolInterface
}

// NewPointsRepository creates a new PointsRepository with the given pool.
func NewPointsRepository(pool *pgxpool.Pool) *PointsRepository {
	return &PointsRepository{pool: pool}
}

// NewPointsRepositoryWithPool creates a new PointsRepository with a custom pool interface.
// This is primarily used for testing.
func NewPointsRepositoryWithPool(pool PoolInterface) *PointsRepository {
	return &PointsRepository{pool: pool}
}

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var typ string
	err := row.Scan(&e.ID, &e.MemberID, &typ, &e.Amount, &e.BeforeBalance, &e.AfterBalance,
		&e.Note, &e.TransactionID, &e.VerificationCode, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = model.LedgerType(typ)
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FindByVerificationCode returns the ledger entry carrying code, or nil.
func (r *PointsRepository) FindByVerificationCode(ctx context.Context, q database.TxQuerier, code string) (*model.LedgerEntry, error) {
	e, err := scanLedgerEntry(q.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM points_ledger WHERE verification_code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ledger entry by code: %w", err)
	}
	return e, nil
}

// GetBalance returns the cached balance row. A member without a row has a zero balance.
func (r *PointsRepository) GetBalance(ctx context.Context, q database.TxQuerier, memberID int64) (*model.MemberBalance, error) {
	b := model.MemberBalance{MemberID: memberID}
	err := q.QueryRow(ctx,
		`SELECT total_points, total_spent, current_level_id, updated_at FROM member_points WHERE member_id = $1`,
		memberID).Scan(&b.TotalPoints, &b.TotalSpent, &b.CurrentLevelID, &b.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get balance for member %d: %w", memberID, err)
	}
	return &b, nil
}

// Credit adds amount to the member's balance and returns the new balance.
func (r *PointsRepository) Credit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error) {
	var after int64
	err := tx.QueryRow(ctx,
		`INSERT INTO member_points (member_id, total_points) VALUES ($1, $2)
		ON CONFLICT (member_id) DO UPDATE
		SET total_points = member_points.total_points + EXCLUDED.total_points, updated_at = NOW()
		RETURNING total_points`,
		memberID, amount).Scan(&after)
	if err != nil {
		return 0, fmt.Errorf("credit %d points to member %d: %w", amount, memberID, err)
	}
	return after, nil
}

// Debit subtracts amount only while the balance covers it and returns the new balance.
// Returns service.ErrInsufficientBalance when the guard rejects the update.
func (r *PointsRepository) Debit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error) {
	var after int64
	err := tx.QueryRow(ctx,
		`UPDATE member_points SET total_points = total_points - $2, updated_at = NOW()
		WHERE member_id = $1 AND total_points >= $2
		RETURNING total_points`,
		memberID, amount).Scan(&after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, service.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("debit %d points from member %d: %w", amount, memberID, err)
	}
	return after, nil
}

// InsertEntry appends a ledger entry within a transaction and fills in its id and timestamp.
// Returns service.ErrAlreadyApplied if the verification code was written concurrently.
func (r *PointsRepository) InsertEntry(ctx context.Context, tx database.TxQuerier, e *model.LedgerEntry) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO points_ledger (member_id, type, amount, before_balance, after_balance, note, transaction_id, verification_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		e.MemberID, string(e.Type), e.Amount, e.BeforeBalance, e.AfterBalance,
		nullable(e.Note), nullable(e.TransactionID), nullable(e.VerificationCode)).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "points_ledger_verification_code_key") {
			return service.ErrAlreadyApplied
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// AddTotalSpent accumulates order spend on the member's balance row.
func (r *PointsRepository) AddTotalSpent(ctx context.Context, tx database.TxQuerier, memberID, amount int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO member_points (member_id, total_spent) VALUES ($1, $2)
		ON CONFLICT (member_id) DO UPDATE
		SET total_spent = member_points.total_spent + EXCLUDED.total_spent, updated_at = NOW()`,
		memberID, amount)
	if err != nil {
		return fmt.Errorf("add total spent for member %d: %w", memberID, err)
	}
	return nil
}

// SumByType totals ledger amounts per entry type for the member.
func (r *PointsRepository) SumByType(ctx context.Context, memberID int64) (map[model.LedgerType]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, SUM(amount) FROM points_ledger WHERE member_id = $1 GROUP BY type`,
		memberID)
	if err != nil {
		return nil, fmt.Errorf("sum ledger for member %d: %w", memberID, err)
	}
	defer rows.Close()

	sums := make(map[model.LedgerType]int64)
	for rows.Next() {
		var typ string
		var total int64
		if err := rows.Scan(&typ, &total); err != nil {
			return nil, fmt.Errorf("scan ledger sum: %w", err)
		}
		sums[model.LedgerType(typ)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger sums: %w", err)
	}
	return sums, nil
}

func (r *PointsRepository) listEntries(ctx context.Context, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}

// ListEntries returns the member's newest ledger entries.
func (r *PointsRepository) ListEntries(ctx context.Context, memberID int64, limit int) ([]model.LedgerEntry, error) {
	out, err := r.listEntries(ctx,
		`SELECT `+ledgerColumns+` FROM points_ledger WHERE member_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger for member %d: %w", memberID, err)
	}
	return out, nil
}

// ListSigninSince returns the member's sign-in entries created at or after since, newest first.
func (r *PointsRepository) ListSigninSince(ctx context.Context, memberID int64, since time.Time) ([]model.LedgerEntry, error) {
	out, err := r.listEntries(ctx,
		`SELECT `+ledgerColumns+` FROM points_ledger
		WHERE member_id = $1 AND type = $2 AND created_at >= $3
		ORDER BY created_at DESC`,
		memberID, string(model.LedgerSignin), since)
	if err != nil {
		return nil, fmt.Errorf("list sign-ins for member %d: %w", memberID, err)
	}
	return out, nil
}
