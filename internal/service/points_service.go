package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// MemberRepositoryInterface defines the member profile and address-book lookups.
type MemberRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Member, error)
	ListAddresses(ctx context.Context, q database.TxQuerier, memberID int64) ([]model.Address, error)
	GetAddress(ctx context.Context, q database.TxQuerier, memberID, addressID int64) (*model.Address, error)
	InsertAddress(ctx context.Context, q database.TxQuerier, a *model.Address) error
}

// PointsRepositoryInterface defines the interface for ledger and balance data access.
type PointsRepositoryInterface interface {
	FindByVerificationCode(ctx context.Context, q database.TxQuerier, code string) (*model.LedgerEntry, error)
	GetBalance(ctx context.Context, q database.TxQuerier, memberID int64) (*model.MemberBalance, error)
	Credit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error)
	Debit(ctx context.Context, tx database.TxQuerier, memberID, amount int64) (int64, error)
	InsertEntry(ctx context.Context, tx database.TxQuerier, e *model.LedgerEntry) error
	AddTotalSpent(ctx context.Context, tx database.TxQuerier, memberID, amount int64) error
	SumByType(ctx context.Context, memberID int64) (map[model.LedgerType]int64, error)
	ListEntries(ctx context.Context, memberID int64, limit int) ([]model.LedgerEntry, error)
	ListSigninSince(ctx context.Context, memberID int64, since time.Time) ([]model.LedgerEntry, error)
}

// ErrorLogRepositoryInterface writes the side-channel error log.
type ErrorLogRepositoryInterface interface {
	Insert(ctx context.Context, entry *model.PointsErrorLog) error
}

// PointsService is the idempotent points mutation engine.
type PointsService struct {
	db      database.DB
	members MemberRepositoryInterface
	points  PointsRepositoryInterface
	errLog  ErrorLogRepositoryInterface
}

// NewPointsService creates a new PointsService.
func NewPointsService(db database.DB, members MemberRepositoryInterface, points PointsRepositoryInterface, errLog ErrorLogRepositoryInterface) *PointsService {
	return &PointsService{db: db, members: members, points: points, errLog: errLog}
}

// Earn credits purchase points.
func (s *PointsService) Earn(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error) {
	return s.mutate(ctx, memberID, model.LedgerEarned, req)
}

// Use debits points. Fails with ErrInsufficientBalance when the balance does not cover the amount.
func (s *PointsService) Use(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error) {
	return s.mutate(ctx, memberID, model.LedgerUsed, req)
}

// Refund credits points back.
func (s *PointsService) Refund(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error) {
	return s.mutate(ctx, memberID, model.LedgerRefund, req)
}

// Expire debits expired points.
func (s *PointsService) Expire(ctx context.Context, memberID int64, req model.PointsMutationRequest) (*model.MutationResult, error) {
	return s.mutate(ctx, memberID, model.LedgerExpired, req)
}

func (s *PointsService) mutate(ctx context.Context, memberID int64, typ model.LedgerType, req model.PointsMutationRequest) (*model.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		s.recordFailure(ctx, memberID, typ, req, err)
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}

	var result *model.MutationResult
	err = database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var txErr error
		result, txErr = s.ApplyInTx(ctx, tx, memberID, typ, req)
		return txErr
	})
	if errors.Is(err, ErrAlreadyApplied) {
		// A concurrent request with the same code committed first.
		return s.replayByCode(ctx, memberID, typ, req.VerificationCode)
	}
	if err != nil {
		if !isUserError(err) {
			s.recordFailure(ctx, memberID, typ, req, err)
		}
		return nil, err
	}

	if !result.Replayed {
		log.Info().
			Int64("member_id", memberID).
			Str("type", string(typ)).
			Int64("amount", req.Amount).
			Int64("after_balance", result.AfterBalance).
			Str("verification_code", req.VerificationCode).
			Msg("points mutation applied")
	}
	return result, nil
}

// ApplyInTx applies one mutation inside the caller's transaction.
// A known verification code replays the original entry without writing. A code written by a
// concurrent transaction surfaces as ErrAlreadyApplied so the caller can roll back and replay.
func (s *PointsService) ApplyInTx(ctx context.Context, tx database.TxQuerier, memberID int64, typ model.LedgerType, req model.PointsMutationRequest) (*model.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !typ.IsCredit() && !typ.IsDebit() {
		return nil, fmt.Errorf("%w: unsupported ledger type %q", ErrInvalidRequest, typ)
	}

	if req.VerificationCode != "" {
		existing, err := s.points.FindByVerificationCode(ctx, tx, req.VerificationCode)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return replay(existing, memberID, typ)
		}
	}

	balance, err := s.points.GetBalance(ctx, tx, memberID)
	if err != nil {
		return nil, err
	}

	var before, after int64
	if typ.IsDebit() {
		if balance.TotalPoints < req.Amount {
			return nil, ErrInsufficientBalance
		}
		// The guarded update is authoritative; the read above only short-circuits.
		after, err = s.points.Debit(ctx, tx, memberID, req.Amount)
		if err != nil {
			return nil, err
		}
		before = after + req.Amount
	} else {
		after, err = s.points.Credit(ctx, tx, memberID, req.Amount)
		if err != nil {
			return nil, err
		}
		before = after - req.Amount
	}

	entry := &model.LedgerEntry{
		MemberID:         memberID,
		Type:             typ,
		Amount:           req.Amount,
		BeforeBalance:    before,
		AfterBalance:     after,
		Note:             req.Note,
		TransactionID:    req.TransactionID,
		VerificationCode: req.VerificationCode,
	}
	if err := s.points.InsertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return toMutationResult(entry, false), nil
}

func (s *PointsService) replayByCode(ctx context.Context, memberID int64, typ model.LedgerType, code string) (*model.MutationResult, error) {
	existing, err := s.points.FindByVerificationCode(ctx, s.db, code)
	if err != nil {
		return nil, fmt.Errorf("reload ledger entry: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("ledger entry %s vanished after conflict: %w", code, ErrAlreadyApplied)
	}
	return replay(existing, memberID, typ)
}

func replay(e *model.LedgerEntry, memberID int64, typ model.LedgerType) (*model.MutationResult, error) {
	if e.MemberID != memberID || e.Type != typ {
		return nil, ErrVerificationCodeConflict
	}
	return toMutationResult(e, true), nil
}

func toMutationResult(e *model.LedgerEntry, replayed bool) *model.MutationResult {
	change := e.Amount
	if e.Type.IsDebit() {
		change = -e.Amount
	}
	return &model.MutationResult{
		MemberID:         e.MemberID,
		BeforeBalance:    e.BeforeBalance,
		ChangeAmount:     change,
		AfterBalance:     e.AfterBalance,
		Type:             e.Type,
		VerificationCode: e.VerificationCode,
		CreatedAt:        e.CreatedAt,
		Replayed:         replayed,
	}
}

// recordFailure writes the forensic record outside any transaction. Its own failure is only logged.
func (s *PointsService) recordFailure(ctx context.Context, memberID int64, typ model.LedgerType, req model.PointsMutationRequest, cause error) {
	entry := &model.PointsErrorLog{
		MemberID:  memberID,
		Operation: string(typ),
		Detail:    cause.Error(),
		Payload: map[string]any{
			"amount":            req.Amount,
			"note":              req.Note,
			"transaction_id":    req.TransactionID,
			"verification_code": req.VerificationCode,
		},
	}
	if err := s.errLog.Insert(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Int64("member_id", memberID).Msg("failed to write points error log")
	}
}

// GetBalance returns the ledger-derived balance alongside the cached one.
func (s *PointsService) GetBalance(ctx context.Context, memberID int64) (*model.PointsBalance, error) {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}

	sums, err := s.points.SumByType(ctx, memberID)
	if err != nil {
		return nil, err
	}
	cached, err := s.points.GetBalance(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}

	return &model.PointsBalance{
		MemberID:       memberID,
		Balance:        DeriveBalance(sums),
		CachedBalance:  cached.TotalPoints,
		TotalSpent:     cached.TotalSpent,
		CurrentLevelID: cached.CurrentLevelID,
	}, nil
}

// DeriveBalance applies the ledger rule: credits minus debits, never below zero.
func DeriveBalance(sums map[model.LedgerType]int64) int64 {
	var balance int64
	for typ, total := range sums {
		switch {
		case typ.IsCredit():
			balance += total
		case typ.IsDebit():
			balance -= total
		}
	}
	return max(0, balance)
}

// History returns the member's newest ledger entries. limit is clamped to [1, 100], 0 means 20.
func (s *PointsService) History(ctx context.Context, memberID int64, limit int) ([]model.LedgerEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return s.points.ListEntries(ctx, memberID, limit)
}
