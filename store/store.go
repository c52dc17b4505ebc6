// Package store defines the durable storage abstraction for users, sessions,
// review queue items, and recorded decisions. The store is the single source
// of truth; caches layered on top of it are pure optimizations.
package store

import (
	"context"
	"time"
)

// ItemStatus is the lifecycle state of a queue item.
type ItemStatus string

const (
	StatusPending  ItemStatus = "pending"
	StatusApproved ItemStatus = "approved"
	StatusRejected ItemStatus = "rejected"
)

// Verdict is the outcome of a recorded decision.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// User is a staff account. PasswordHash and PasswordSalt hold argon2id
// material. SessionToken and SessionExpires mirror the most recently issued
// session so an operator can see (and kill) the latest login at a glance;
// they are not the authority on session validity — the sessions table is.
type User struct {
	ID             int64
	Username       string
	Role           string
	Active         bool
	PasswordHash   []byte
	PasswordSalt   []byte
	SessionToken   string
	SessionExpires *time.Time
	LastSeen       *time.Time
	CreatedAt      time.Time
}

// Session is a durable auth session. Valid iff now < ExpiresAt and the
// owning user is active.
type Session struct {
	Token     string
	UserID    int64
	Device    string
	IP        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Item is a submitted work item in the review queue. ClaimantID and
// ClaimedAt carry the claim lease: the lease is active iff ClaimantID is set
// and now - ClaimedAt is under the lease duration. The stored fields are the
// source of truth for mutual exclusion and are never cached.
type Item struct {
	ID           int64
	ProjectName  string
	ProjectType  string
	Submitter    string
	Status       ItemStatus
	CustomBounty float64
	ClaimantID   *int64
	ClaimedAt    *time.Time
	ReviewerID   *int64
	DecidedAt    *time.Time
	CreatedAt    time.Time
}

// Decision is the immutable record of a verdict on an item, including the
// payout breakdown frozen at decision time. Multiplier is the leaderboard
// rank multiplier as it stood at that instant; later leaderboard movement
// never rewrites it.
type Decision struct {
	ID          string
	ItemID      int64
	ReviewerID  int64
	Verdict     Verdict
	Base        float64
	WaitMult    float64
	VerdictMult float64
	Multiplier  float64 // leaderboard rank multiplier snapshot
	DailyMult   float64
	Bounty      float64
	Payout      float64
	DecidedAt   time.Time
}

// ReviewerCount is one leaderboard input row.
type ReviewerCount struct {
	ReviewerID int64
	Count      int
}

// QueueStats is the aggregate served by the stats endpoint.
type QueueStats struct {
	Pending        int
	Approved       int
	Rejected       int
	DecisionsToday int
	NewItemsToday  int
	ApprovalRate   float64
}

// UserStore persists staff accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
	// SetUserSessionMirror updates the mirrored latest-session fields on the
	// user row. A nil expires clears the mirror.
	SetUserSessionMirror(ctx context.Context, id int64, token string, expires *time.Time) error
	TouchLastSeen(ctx context.Context, id int64, at time.Time) error
}

// SessionStore persists auth sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session for token, or ErrNotFound. Expiry is not
	// checked here; callers compare ExpiresAt against their own clock.
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	ListSessionsByUser(ctx context.Context, userID int64) ([]*Session, error)
	ExtendSession(ctx context.Context, token string, expiresAt time.Time) error
	// DeleteExpiredSessions removes sessions with ExpiresAt before now and
	// returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// ItemStore persists queue items and their claim leases.
type ItemStore interface {
	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id int64) (*Item, error)
	ListItems(ctx context.Context, f ItemFilter) ([]*Item, error)
	// ClaimItem atomically claims the item for userID iff it is pending and
	// unclaimed, its existing lease has expired (ClaimedAt + lease <= now),
	// or userID already holds the lease (idempotent re-claim, which does not
	// refresh ClaimedAt). The check and write are one conditional update.
	// Returns the item after the claim, a *ClaimConflictError when another
	// holder's lease is active, ErrNotFound, or ErrItemResolved.
	ClaimItem(ctx context.Context, id int64, userID int64, now time.Time, lease time.Duration) (*Item, error)
	// ReleaseItem clears the lease. Without force it succeeds only while
	// userID is the recorded claimant; otherwise ErrNotHolder.
	ReleaseItem(ctx context.Context, id int64, userID int64, force bool) error
	// CountPendingOlderThan returns the number of pending items created
	// before cutoff. Feeds the wait-time payout tier.
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (*QueueStats, error)
}

// DecisionStore persists verdicts.
type DecisionStore interface {
	// RecordDecision writes the decision and resolves the item in a single
	// atomic transaction: the item's status, reviewer, and decided-at are set
	// and its claim lease is cleared, whoever held it. Returns
	// ErrItemResolved if the item is no longer pending and ErrNotFound if it
	// does not exist.
	RecordDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
	// DecisionCounts returns per-reviewer completed-decision counts within
	// [start, end), for leaderboard ranking. Order is unspecified.
	DecisionCounts(ctx context.Context, start, end time.Time) ([]ReviewerCount, error)
	CountDecisionsByReviewer(ctx context.Context, reviewerID int64, start, end time.Time) (int, error)
}

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	Status      ItemStatus
	ProjectType string
	OldestFirst bool
}

// Store is the full durable interface implemented by each backend.
type Store interface {
	UserStore
	SessionStore
	ItemStore
	DecisionStore
}
