package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
	"github.com/fairyhunter13/checkout-ledger/pkg/database"
)

const dateLayout = "2006-01-02"

// RewardTable maps reward-cycle positions 1..7 to the sign-in reward.
var RewardTable = [7]int64{1, 2, 3, 4, 5, 6, 10}

var checkinNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("checkout-ledger/signin"))

// CheckinCode is the deterministic verification code for one member's check-in on one calendar day.
func CheckinCode(memberID int64, day string) string {
	return uuid.NewSHA1(checkinNamespace, []byte(fmt.Sprintf("signin:%d:%s", memberID, day))).String()
}

// RewardFor returns the cycle position and reward for a streak length. Streaks below one count as one.
func RewardFor(streak int) (int, int64) {
	if streak < 1 {
		streak = 1
	}
	cycle := ((streak - 1) % len(RewardTable)) + 1
	return cycle, RewardTable[cycle-1]
}

// CheckinDeps groups the collaborators of CheckinService.
type CheckinDeps struct {
	DB           database.DB
	Members      MemberRepositoryInterface
	Points       PointsRepositoryInterface
	Ledger       *PointsService
	Location     *time.Location
	LookbackDays int
	Clock        func() time.Time
}

// CheckinService runs the daily check-in streak.
type CheckinService struct {
	db       database.DB
	members  MemberRepositoryInterface
	points   PointsRepositoryInterface
	ledger   *PointsService
	loc      *time.Location
	lookback int
	now      func() time.Time
}

// NewCheckinService creates a CheckinService. A nil location means UTC and a nil clock means time.Now.
func NewCheckinService(deps CheckinDeps) *CheckinService {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	lookback := deps.LookbackDays
	if lookback < 1 {
		lookback = 60
	}
	return &CheckinService{
		db:       deps.DB,
		members:  deps.Members,
		points:   deps.Points,
		ledger:   deps.Ledger,
		loc:      loc,
		lookback: lookback,
		now:      clock,
	}
}

type checkinState struct {
	today       time.Time
	day         string
	code        string
	signedToday bool
	streak      int
}

// state reads the sign-in history and walks back day by day from today (if signed) or yesterday.
func (s *CheckinService) state(ctx context.Context, memberID int64) (*checkinState, error) {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	since := today.AddDate(0, 0, -s.lookback)

	entries, err := s.points.ListSigninSince(ctx, memberID, since)
	if err != nil {
		return nil, err
	}
	// A day counts as signed by its verification code, not by created_at: the row timestamp comes
	// from the database and can fall on the next day when a check-in straddles midnight.
	codes := make(map[string]bool, len(entries))
	for _, e := range entries {
		codes[e.VerificationCode] = true
	}
	signed := func(day time.Time) bool {
		return codes[CheckinCode(memberID, day.Format(dateLayout))]
	}

	st := &checkinState{today: today, day: today.Format(dateLayout)}
	st.code = CheckinCode(memberID, st.day)
	st.signedToday = codes[st.code]

	cursor := today
	if !st.signedToday {
		cursor = today.AddDate(0, 0, -1)
	}
	for i := 0; i <= s.lookback && signed(cursor); i++ {
		st.streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return st, nil
}

func (s *CheckinService) requireMember(ctx context.Context, memberID int64) error {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("get member: %w", err)
	}
	if member == nil {
		return ErrMemberNotFound
	}
	return nil
}

// GetCheckinInfo reports today's status and the reward of the next check-in.
func (s *CheckinService) GetCheckinInfo(ctx context.Context, memberID int64) (*model.CheckinInfo, error) {
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}
	st, err := s.state(ctx, memberID)
	if err != nil {
		return nil, err
	}

	info := &model.CheckinInfo{
		MemberID:         memberID,
		Date:             st.day,
		SignedToday:      st.signedToday,
		CurrentStreak:    st.streak,
		RewardTable:      RewardTable[:],
		VerificationCode: st.code,
	}
	info.NextRewardCycle, info.NextReward = RewardFor(st.streak + 1)
	if st.signedToday {
		_, info.TodayReward = RewardFor(st.streak)
	}
	return info, nil
}

// PerformCheckin credits today's reward once. Repeat calls on the same day return the first result.
func (s *CheckinService) PerformCheckin(ctx context.Context, memberID int64) (*model.CheckinResult, error) {
	if err := s.requireMember(ctx, memberID); err != nil {
		return nil, err
	}
	st, err := s.state(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if st.signedToday {
		return s.replay(ctx, memberID, st)
	}

	streak := st.streak + 1
	cycle, reward := RewardFor(streak)
	req := model.PointsMutationRequest{
		Amount:           reward,
		Note:             fmt.Sprintf("check-in day %d", cycle),
		VerificationCode: st.code,
	}

	var applied *model.MutationResult
	err = database.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var txErr error
		applied, txErr = s.ledger.ApplyInTx(ctx, tx, memberID, model.LedgerSignin, req)
		return txErr
	})
	if errors.Is(err, ErrAlreadyApplied) || (err == nil && applied.Replayed) {
		// Lost a same-day race: the other request's entry is authoritative.
		st, err = s.state(ctx, memberID)
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, memberID, st)
	}
	if err != nil {
		return nil, fmt.Errorf("credit check-in reward: %w", err)
	}

	log.Info().
		Int64("member_id", memberID).
		Int("streak", streak).
		Int64("reward", reward).
		Str("verification_code", st.code).
		Msg("member checked in")

	return &model.CheckinResult{
		MemberID:         memberID,
		Reward:           reward,
		Streak:           streak,
		RewardCycle:      cycle,
		VerificationCode: st.code,
		Balance:          applied.AfterBalance,
		CheckedInAt:      applied.CreatedAt,
	}, nil
}

func (s *CheckinService) replay(ctx context.Context, memberID int64, st *checkinState) (*model.CheckinResult, error) {
	entry, err := s.points.FindByVerificationCode(ctx, s.db, st.code)
	if err != nil {
		return nil, err
	}
	balance, err := s.points.GetBalance(ctx, s.db, memberID)
	if err != nil {
		return nil, err
	}

	cycle, reward := RewardFor(st.streak)
	res := &model.CheckinResult{
		MemberID:         memberID,
		Reward:           reward,
		Streak:           st.streak,
		RewardCycle:      cycle,
		VerificationCode: st.code,
		Balance:          balance.TotalPoints,
		AlreadyCheckedIn: true,
	}
	if entry != nil {
		res.Reward = entry.Amount
		res.CheckedInAt = entry.CreatedAt
	}
	return res, nil
}
