package service

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/checkout-ledger/internal/model"
)

// StagedCouponStore holds the coupon a member has applied to the cart but not yet checked out.
// Entries past their ExpiresAt read as absent. Writes are last-write-wins.
type StagedCouponStore interface {
	Get(ctx context.Context, memberID int64) (*model.AppliedCoupon, error)
	Put(ctx context.Context, ac *model.AppliedCoupon) error
	Delete(ctx context.Context, memberID int64) error
}

// MemoryStagedCouponStore is an in-process StagedCouponStore for single-instance deployments and tests.
type MemoryStagedCouponStore struct {
	mu      sync.Mutex
	entries map[int64]model.AppliedCoupon
	now     func() time.Time
}

// NewMemoryStagedCouponStore creates an empty store. A nil clock means time.Now.
func NewMemoryStagedCouponStore(clock func() time.Time) *MemoryStagedCouponStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStagedCouponStore{entries: make(map[int64]model.AppliedCoupon), now: clock}
}

func (m *MemoryStagedCouponStore) Get(_ context.Context, memberID int64) (*model.AppliedCoupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.entries[memberID]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(ac.ExpiresAt) {
		delete(m.entries, memberID)
		return nil, nil
	}
	return &ac, nil
}

func (m *MemoryStagedCouponStore) Put(_ context.Context, ac *model.AppliedCoupon) error {
	m.mu.Lock()
	m.entries[ac.MemberID] = *ac
	m.mu.Unlock()
	return nil
}

func (m *MemoryStagedCouponStore) Delete(_ context.Context, memberID int64) error {
	m.mu.Lock()
	delete(m.entries, memberID)
	m.mu.Unlock()
	return nil
}
