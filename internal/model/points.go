package model

import "time"

// LedgerType tags a points ledger entry; the sign of its amount is implied by the type.
type LedgerType string

const (
	LedgerEarned     LedgerType = "earned"
	LedgerUsed       LedgerType = "used"
	LedgerRefund     LedgerType = "refund"
	LedgerExpired    LedgerType = "expired"
	LedgerSignin     LedgerType = "signin"
	LedgerAdjustment LedgerType = "adjustment"
)

// IsCredit reports whether the type adds to the balance.
func (t LedgerType) IsCredit() bool {
	return t == LedgerEarned || t == LedgerSignin || t == LedgerRefund
}

// IsDebit reports whether the type subtracts from the balance.
func (t LedgerType) IsDebit() bool {
	return t == LedgerUsed || t == LedgerExpired
}

// LedgerEntry is one immutable points mutation.
type LedgerEntry struct {
	ID               int64      `json:"id"`
	MemberID         int64      `json:"member_id"`
	Type             LedgerType `json:"type"`
	Amount           int64      `json:"amount"`
	BeforeBalance    int64      `json:"before_balance"`
	AfterBalance     int64      `json:"after_balance"`
	Note             string     `json:"note,omitempty"`
	TransactionID    string     `json:"transaction_id,omitempty"`
	VerificationCode string     `json:"verification_code,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// MemberBalance is the denormalized running balance.
type MemberBalance struct {
	MemberID       int64
	TotalPoints    int64
	TotalSpent     int64
	CurrentLevelID *int64
	UpdatedAt      time.Time
}

// PointsMutationRequest is the DTO for earn/use/refund/expire.
type PointsMutationRequest struct {
	Amount           int64  `json:"amount" validate:"required,gte=1"`
	Note             string `json:"note" validate:"max=512"`
	TransactionID    string `json:"transaction_id" validate:"max=255"`
	VerificationCode string `json:"verification_code" validate:"max=255"`
}

// MutationResult reports a points mutation. A replay returns the original values.
type MutationResult struct {
	MemberID         int64      `json:"member_id"`
	BeforeBalance    int64      `json:"before_balance"`
	ChangeAmount     int64      `json:"change_amount"`
	AfterBalance     int64      `json:"after_balance"`
	Type             LedgerType `json:"type"`
	VerificationCode string     `json:"verification_code,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Replayed         bool       `json:"replayed"`
}

// PointsBalance is the response for GET /api/points.
type PointsBalance struct {
	MemberID       int64  `json:"member_id"`
	Balance        int64  `json:"balance"`
	CachedBalance  int64  `json:"cached_balance"`
	TotalSpent     int64  `json:"total_spent"`
	CurrentLevelID *int64 `json:"current_level_id"`
}

// PointsErrorLog is the side-channel forensic record of a failed mutation.
type PointsErrorLog struct {
	MemberID  int64
	Operation string
	Detail    string
	Payload   map[string]any
}
