package model

import "time"

// CheckinInfo is the response for GET /api/checkin.
type CheckinInfo struct {
	MemberID         int64   `json:"member_id"`
	Date             string  `json:"date"`
	SignedToday      bool    `json:"signed_today"`
	CurrentStreak    int     `json:"current_streak"`
	TodayReward      int64   `json:"today_reward"`
	NextReward       int64   `json:"next_reward"`
	NextRewardCycle  int     `json:"next_reward_cycle"`
	RewardTable      []int64 `json:"reward_table"`
	VerificationCode string  `json:"verification_code"`
}

// CheckinResult is the response for POST /api/checkin.
type CheckinResult struct {
	MemberID         int64     `json:"member_id"`
	Reward           int64     `json:"reward"`
	Streak           int       `json:"streak"`
	RewardCycle      int       `json:"reward_cycle"`
	VerificationCode string    `json:"verification_code"`
	Balance          int64     `json:"balance"`
	AlreadyCheckedIn bool      `json:"already_checked_in"`
	CheckedInAt      time.Time `json:"checked_in_at"`
}
