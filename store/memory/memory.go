// Package memory provides a thread-safe in-memory implementation of
// store.Store. Suitable for tests, demos, and single-process use; everything
// is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/slipway-hq/slipway/store"
)

// Store is a thread-safe in-memory store.Store. One mutex guards all tables,
// which makes the claim conditional update and decision recording trivially
// atomic.
type Store struct {
	mu          sync.RWMutex
	users       map[int64]*store.User
	usersByName map[string]int64 // username -> id
	sessions    map[string]*store.Session
	items       map[int64]*store.Item
	decisions   map[string]*store.Decision
	nextUserID  int64
	nextItemID  int64
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:       make(map[int64]*store.User),
		usersByName: make(map[string]int64),
		sessions:    make(map[string]*store.Session),
		items:       make(map[int64]*store.Item),
		decisions:   make(map[string]*store.Decision),
	}
}

func cloneUser(u *store.User) *store.User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = append([]byte(nil), u.PasswordHash...)
	c.PasswordSalt = append([]byte(nil), u.PasswordSalt...)
	c.SessionExpires = cloneTime(u.SessionExpires)
	c.LastSeen = cloneTime(u.LastSeen)
	return &c
}

func cloneSession(s *store.Session) *store.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneItem(it *store.Item) *store.Item {
	if it == nil {
		return nil
	}
	c := *it
	c.ClaimantID = cloneInt64(it.ClaimantID)
	c.ClaimedAt = cloneTime(it.ClaimedAt)
	c.ReviewerID = cloneInt64(it.ReviewerID)
	c.DecidedAt = cloneTime(it.DecidedAt)
	return &c
}

func cloneDecision(d *store.Decision) *store.Decision {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[u.Username]; ok {
		return store.ErrDuplicate
	}
	s.nextUserID++
	u.ID = s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = cloneUser(u)
	s.usersByName[u.Username] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Active = active
	return nil
}

func (s *Store) SetUserSessionMirror(ctx context.Context, id int64, token string, expires *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.SessionToken = token
	u.SessionExpires = cloneTime(expires)
	return nil
}

func (s *Store) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	u.LastSeen = &at
	return nil
}

// ---------------------------------------------------------------------------
// SessionStore
// ---------------------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Token]; ok {
		return store.ErrDuplicate
	}
	s.sessions[sess.Token] = cloneSession(sess)
	return nil
}

func (s *Store) GetSession(ctx context.Context, token string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID int64) ([]*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *Store) ExtendSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return store.ErrNotFound
	}
	sess.ExpiresAt = expiresAt
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// ---------------------------------------------------------------------------
// ItemStore
// ---------------------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, it *store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItemID++
	it.ID = s.nextItemID
	if it.Status == "" {
		it.Status = store.StatusPending
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	s.items[it.ID] = cloneItem(it)
	return nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneItem(it), nil
}

func (s *Store) ListItems(ctx context.Context, f store.ItemFilter) ([]*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Item
	for _, it := range s.items {
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		if f.ProjectType != "" && it.ProjectType != f.ProjectType {
			continue
		}
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool {
		if f.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ClaimItem(ctx context.Context, id, userID int64, now time.Time, lease time.Duration) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if it.Status != store.StatusPending {
		return nil, store.ErrItemResolved
	}
	if it.ClaimantID != nil && it.ClaimedAt != nil {
		expires := it.ClaimedAt.Add(lease)
		if expires.After(now) {
			if *it.ClaimantID == userID {
				// Re-claim by the current holder: success, lease untouched.
				return cloneItem(it), nil
			}
			return nil, &store.ClaimConflictError{HolderID: *it.ClaimantID, ExpiresAt: expires}
		}
	}
	claimedAt := now.UTC()
	it.ClaimantID = &userID
	it.ClaimedAt = &claimedAt
	return cloneItem(it), nil
}

func (s *Store) ReleaseItem(ctx context.Context, id, userID int64, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if !force && (it.ClaimantID == nil || *it.ClaimantID != userID) {
		return store.ErrNotHolder
	}
	it.ClaimantID = nil
	it.ClaimedAt = nil
	return nil
}

func (s *Store) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if it.Status == store.StatusPending && it.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (*store.QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	startOfDay := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	st := &store.QueueStats{}
	for _, it := range s.items {
		switch it.Status {
		case store.StatusPending:
			st.Pending++
		case store.StatusApproved:
			st.Approved++
		case store.StatusRejected:
			st.Rejected++
		}
		if !it.CreatedAt.Before(startOfDay) {
			st.NewItemsToday++
		}
		if it.DecidedAt != nil && !it.DecidedAt.Before(startOfDay) {
			st.DecisionsToday++
		}
	}
	if judged := st.Approved + st.Rejected; judged > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(judged) * 100
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// DecisionStore
// ---------------------------------------------------------------------------

func (s *Store) RecordDecision(ctx context.Context, d *store.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[d.ItemID]
	if !ok {
		return store.ErrNotFound
	}
	if it.Status != store.StatusPending {
		return store.ErrItemResolved
	}
	decidedAt := d.DecidedAt.UTC()
	it.Status = store.ItemStatus(d.Verdict)
	it.ReviewerID = &d.ReviewerID
	it.DecidedAt = &decidedAt
	it.ClaimantID = nil
	it.ClaimedAt = nil
	s.decisions[d.ID] = cloneDecision(d)
	return nil
}

func (s *Store) GetDecision(ctx context.Context, id string) (*store.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDecision(d), nil
}

func (s *Store) DecisionCounts(ctx context.Context, start, end time.Time) ([]store.ReviewerCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int)
	for _, d := range s.decisions {
		if d.DecidedAt.Before(start) || !d.DecidedAt.Before(end) {
			continue
		}
		counts[d.ReviewerID]++
	}
	out := make([]store.ReviewerCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, store.ReviewerCount{ReviewerID: id, Count: n})
	}
	return out, nil
}

func (s *Store) CountDecisionsByReviewer(ctx context.Context, reviewerID int64, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.decisions {
		if d.ReviewerID != reviewerID {
			continue
		}
		if d.DecidedAt.Before(start) || !d.DecidedAt.Before(end) {
			continue
		}
		n++
	}
	return n, nil
}
