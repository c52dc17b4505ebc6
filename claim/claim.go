// Package claim hands out exclusive review leases on queue items. A lease
// expires by clock alone; nothing is written when it lapses, so expiry and
// takeover are decided by the conditional update inside the store.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slipway-hq/slipway/store"
)

// DefaultLease is how long a claim blocks other reviewers.
const DefaultLease = 30 * time.Minute

// AlreadyClaimedError reports a claim conflict with enough detail for the
// caller to render "claimed by X, frees up at Y".
type AlreadyClaimedError struct {
	HolderID  int64
	Holder    string
	ExpiresAt time.Time
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("item claimed by %s until %s", e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

// Manager wraps the store's lease operations with the configured lease
// duration and resolves conflict holders to usernames.
type Manager struct {
	store store.Store
	lease time.Duration
	nowF  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLease overrides the lease duration.
func WithLease(d time.Duration) Option {
	return func(m *Manager) { m.lease = d }
}

// NewManager returns a claim Manager over st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		lease: DefaultLease,
		nowF:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease returns the configured lease duration.
func (m *Manager) Lease() time.Duration {
	return m.lease
}

// Claim takes the lease on an item for userID. It succeeds when the item is
// pending and unclaimed, its current lease has expired, or userID already
// holds it (idempotent; re-claiming does not refresh the lease). A conflict
// comes back as *AlreadyClaimedError; a resolved item as
// store.ErrItemResolved.
func (m *Manager) Claim(ctx context.Context, itemID, userID int64) (*store.Item, error) {
	it, err := m.store.ClaimItem(ctx, itemID, userID, m.nowF(), m.lease)

	var conflict *store.ClaimConflictError
	if errors.As(err, &conflict) {
		holder := fmt.Sprintf("user %d", conflict.HolderID)
		if u, uerr := m.store.GetUser(ctx, conflict.HolderID); uerr == nil {
			holder = u.Username
		}
		return nil, &AlreadyClaimedError{
			HolderID:  conflict.HolderID,
			Holder:    holder,
			ExpiresAt: conflict.ExpiresAt,
		}
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Release clears the lease. Without override only the current holder may
// release; anyone else gets store.ErrNotHolder. With override any lease is
// cleared.
func (m *Manager) Release(ctx context.Context, itemID, userID int64, override bool) error {
	return m.store.ReleaseItem(ctx, itemID, userID, override)
}

// Active reports whether the item's lease blocks other claimants at now.
// Pure function of the item and clock; no store access.
func Active(it *store.Item, now time.Time, lease time.Duration) bool {
	if it.ClaimantID == nil || it.ClaimedAt == nil {
		return false
	}
	return now.Sub(*it.ClaimedAt) < lease
}

// Remaining returns how long the item's lease has left, or zero when it is
// not active.
func Remaining(it *store.Item, now time.Time, lease time.Duration) time.Duration {
	if !Active(it, now, lease) {
		return 0
	}
	return it.ClaimedAt.Add(lease).Sub(now)
}
