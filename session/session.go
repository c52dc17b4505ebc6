// Package session issues, validates, and revokes login sessions. The durable
// store is the source of truth; a TTL cache in front of it absorbs the
// per-request validation load, and best-effort writes (sliding renewal,
// last-seen stamps) run on a background pool so validation never blocks on
// them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/internal/util"
	"github.com/slipway-hq/slipway/store"
	"github.com/slipway-hq/slipway/worker"
)

var (
	// ErrUnauthenticated is returned for missing, invalid, or expired tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInactive is returned when the token is valid but the account is
	// disabled.
	ErrInactive = errors.New("account inactive")
)

const (
	// DefaultTTL is the session lifetime granted at login and restored by
	// each sliding renewal.
	DefaultTTL = 7 * 24 * time.Hour
	// cacheTTLCap bounds how long a validation result may be served from
	// cache. Entries re-verify against the durable store well before the
	// session itself can expire, and well within the window in which a
	// deactivated account must stop validating.
	cacheTTLCap = 5 * time.Minute
	// lastSeenThrottle is the minimum gap between last-seen writes for one
	// user. Presence only needs coarse freshness.
	lastSeenThrottle = 30 * time.Second
	// tokenBytes gives 256 bits of entropy per token.
	tokenBytes = 32
)

// User is the authenticated identity handed to request handlers.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// cacheEntry is the JSON shape stored in the cache per token.
type cacheEntry struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager implements the session lifecycle over a durable store, a cache,
// and a background worker pool.
type Manager struct {
	store store.Store
	cache cache.Cache
	pool  *worker.Pool
	log   *slog.Logger
	ttl   time.Duration
	nowF  func() time.Time

	touchMu   sync.Mutex
	lastTouch map[int64]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for background-write failures.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// NewManager returns a session Manager. The pool runs the fire-and-forget
// writes; pass nil to perform them synchronously (tests).
func NewManager(st store.Store, c cache.Cache, pool *worker.Pool, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		cache:     c,
		pool:      pool,
		log:       slog.Default(),
		ttl:       DefaultTTL,
		nowF:      time.Now,
		lastTouch: make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create logs userID in: it mints a fresh token, persists the session, and
// mirrors the token onto the user row. Multiple live sessions per user are
// allowed; the mirror always reflects the newest one.
func (m *Manager) Create(ctx context.Context, userID int64, device, ip string) (string, error) {
	token, err := util.RandomToken(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	now := m.nowF()
	expiresAt := now.Add(m.ttl)
	sess := &store.Session{
		Token:     token,
		UserID:    userID,
		Device:    device,
		IP:        ip,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	if err := m.store.SetUserSessionMirror(ctx, userID, token, &expiresAt); err != nil {
		return "", err
	}
	return token, nil
}

// Validate resolves a token to its user. The cache is consulted first; any
// cache failure falls through to the durable store, which alone decides
// validity. Returns ErrUnauthenticated for unknown or expired tokens and
// ErrInactive for disabled accounts.
func (m *Manager) Validate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	now := m.nowF()
	key := cacheKey(token)

	if raw, err := m.cache.Get(ctx, key); err == nil {
		var e cacheEntry
		if err := json.Unmarshal(raw, &e); err == nil && now.Before(e.ExpiresAt) {
			if !e.User.Active {
				return nil, ErrInactive
			}
			m.touchLastSeen(e.User.ID, now)
			u := e.User
			return &u, nil
		}
	}

	sess, err := m.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if !now.Before(sess.ExpiresAt) {
		return nil, ErrUnauthenticated
	}

	owner, err := m.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !owner.Active {
		return nil, ErrInactive
	}

	u := User{ID: owner.ID, Username: owner.Username, Role: owner.Role, Active: owner.Active}
	m.fillCache(ctx, key, u, sess.ExpiresAt, now)

	if sess.ExpiresAt.Sub(now) < m.ttl/2 {
		m.renewAsync(token, key, u, now)
	}
	m.touchLastSeen(u.ID, now)
	return &u, nil
}

// Invalidate destroys one session: cache entry, durable row, and the
// mirrored token on the user when this session is the mirrored one.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	_ = m.cache.Delete(ctx, cacheKey(token))

	sess, err := m.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	owner, err := m.store.GetUser(ctx, sess.UserID)
	if err == nil && owner.SessionToken == token {
		if err := m.store.SetUserSessionMirror(ctx, sess.UserID, "", nil); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll force-logs a user out everywhere: every durable session and
// its cache entry, plus the mirrored token.
func (m *Manager) InvalidateAll(ctx context.Context, userID int64) error {
	sessions, err := m.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		_ = m.cache.Delete(ctx, cacheKey(sess.Token))
		if err := m.store.DeleteSession(ctx, sess.Token); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return m.store.SetUserSessionMirror(ctx, userID, "", nil)
}

// SweepExpired deletes sessions past their expiry from the durable store.
// Called periodically by the server; cache entries age out on their own.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredSessions(ctx, m.nowF())
}

func cacheKey(token string) string {
	return cache.Key("session", map[string]string{"token": token})
}

// fillCache stores a validation result with a TTL capped so the entry always
// re-verifies before the session can expire.
func (m *Manager) fillCache(ctx context.Context, key string, u User, expiresAt, now time.Time) {
	ttl := expiresAt.Sub(now)
	if ttl > cacheTTLCap {
		ttl = cacheTTLCap
	}
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cacheEntry{User: u, ExpiresAt: expiresAt})
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, key, raw, ttl); err != nil {
		m.log.Debug("session cache fill failed", "error", err)
	}
}

// renewAsync extends a session to a full TTL off the critical path. Failures
// are logged and dropped; the session stays valid until its old expiry.
func (m *Manager) renewAsync(token, key string, u User, now time.Time) {
	newExpiry := now.Add(m.ttl)
	task := func(ctx context.Context) error {
		if err := m.store.ExtendSession(ctx, token, newExpiry); err != nil {
			return err
		}
		m.fillCache(ctx, key, u, newExpiry, m.nowF())
		return nil
	}
	if m.pool == nil {
		if err := task(context.Background()); err != nil {
			m.log.Warn("session renewal failed", "user", u.ID, "error", err)
		}
		return
	}
	m.pool.Submit("session-renew", task)
}

// touchLastSeen stamps the user's last-seen time at most once per throttle
// window, asynchronously.
func (m *Manager) touchLastSeen(userID int64, now time.Time) {
	m.touchMu.Lock()
	last, ok := m.lastTouch[userID]
	if ok && now.Sub(last) < lastSeenThrottle {
		m.touchMu.Unlock()
		return
	}
	m.lastTouch[userID] = now
	m.touchMu.Unlock()

	task := func(ctx context.Context) error {
		return m.store.TouchLastSeen(ctx, userID, now)
	}
	if m.pool == nil {
		if err := task(context.Background()); err != nil {
			m.log.Debug("last-seen write failed", "user", userID, "error", err)
		}
		return
	}
	m.pool.Submit("last-seen", task)
}
