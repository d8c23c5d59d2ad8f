package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const addressColumns = `id, member_id, recipient_name, phone, city, district, detail, is_default, created_at`

// MemberRepository reads member profiles and address books.
type MemberRepository struct {
	pool PoolInterface
}

// NewMemberRepository creates a new MemberRepository with the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// NewMemberRepositoryWithPool creates a new MemberRepository with a custom pool interface.
// This is primarily used for testing.
func NewMemberRepositoryWithPool(pool PoolInterface) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// GetByID returns the member, or nil, nil if it does not exist.
func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var m model.Member
	err := r.pool.QueryRow(ctx, `SELECT id, name, level_id FROM members WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.LevelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return &m, nil
}

func scanAddress(row pgx.Row) (*model.Address, error) {
	var a model.Address
	err := row.Scan(&a.ID, &a.MemberID, &a.RecipientName, &a.Phone, &a.City, &a.District, &a.Detail, &a.IsDefault, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAddresses returns the member's address book with the default address first.
func (r *MemberRepository) ListAddresses(ctx context.Context, q database.TxQuerier, memberID int64) ([]model.Address, error) {
	rows, err := q.Query(ctx,
		`SELECT `+addressColumns+` FROM member_addresses WHERE member_id = $1 ORDER BY is_default DESC, id`,
		memberID)
	if err != nil {
		return nil, fmt.Errorf("list addresses for member %d: %w", memberID, err)
	}
	defer rows.Close()

	out := []model.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate address rows: %w", err)
	}
	return out, nil
}

// GetAddress returns the address if it belongs to the member, or nil, nil.
func (r *MemberRepository) GetAddress(ctx context.Context, q database.TxQuerier, memberID, addressID int64) (*model.Address, error) {
	a, err := scanAddress(q.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM member_addresses WHERE id = $1 AND member_id = $2`,
		addressID, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get address %d: %w", addressID, err)
	}
	return a, nil
}

// InsertAddress stores a new address-book row and fills in its id.
func (r *MemberRepository) InsertAddress(ctx context.Context, q database.TxQuerier, a *model.Address) error {
	err := q.QueryRow(ctx,
		`INSERT INTO member_addresses (member_id, recipient_name, phone, city, district, detail, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		a.MemberID, a.RecipientName, a.Phone, a.City, a.District, a.Detail, a.IsDefault).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}
