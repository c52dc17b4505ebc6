package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/store"
	"github.com/slipway-hq/slipway/store/memory"
)

type fixture struct {
	store *memory.Store
	cache *cache.Memory
	mgr   *Manager
	now   *time.Time
	user  *store.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	st := memory.New()
	c := cache.NewMemory(0, cache.WithNow(func() time.Time { return now }))
	t.Cleanup(c.Close)

	// No pool: background writes run inline so tests can assert on them.
	mgr := NewManager(st, c, nil, opts...)
	mgr.nowF = func() time.Time { return now }

	u := &store.User{Username: "ana", Role: "reviewer", Active: true}
	require.NoError(t, st.CreateUser(context.Background(), u))

	return &fixture{store: st, cache: c, mgr: mgr, now: &now, user: u}
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestCreateAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "firefox", "10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, token, 64, "32 random bytes hex-encoded")

	got, err := f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, got.ID)
	assert.Equal(t, "ana", got.Username)
	assert.Equal(t, "reviewer", got.Role)

	// The newest token is mirrored onto the user row.
	u, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, token, u.SessionToken)
}

func TestValidate_UnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Validate(context.Background(), "nonsense")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.mgr.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidate_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	f.advance(DefaultTTL)
	_, err = f.mgr.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidate_InactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)
	require.NoError(t, f.store.SetUserActive(ctx, f.user.ID, false))

	_, err = f.mgr.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestValidate_ServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)

	// Delete the durable row; a fresh cache entry still answers.
	require.NoError(t, f.store.DeleteSession(ctx, token))
	got, err := f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, got.ID)

	// Once the capped cache TTL passes, the durable store decides again.
	f.advance(6 * time.Minute)
	_, err = f.mgr.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidate_SlidingRenewal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	// Past the halfway point the durable expiry is pushed out.
	f.advance(4 * 24 * time.Hour)
	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)

	sess, err := f.store.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(DefaultTTL), sess.ExpiresAt.UTC())
}

func TestValidate_NoRenewalBeforeHalfway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)
	issued := *f.now

	f.advance(time.Hour)
	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)

	sess, err := f.store.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(DefaultTTL), sess.ExpiresAt.UTC())
}

func TestValidate_LastSeenThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	u, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, u.LastSeen)
	first := *u.LastSeen

	// A validation 10s later is inside the throttle window: no new write.
	f.advance(10 * time.Second)
	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	u, err = f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *u.LastSeen)

	f.advance(30 * time.Second)
	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)
	u, err = f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, u.LastSeen.After(first))
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)
	_, err = f.mgr.Validate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Invalidate(ctx, token))

	_, err = f.mgr.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated, "neither cache nor store may answer after logout")

	u, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, u.SessionToken, "mirrored token cleared")
}

func TestInvalidate_UnknownTokenIsNoop(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.mgr.Invalidate(context.Background(), "nonsense"))
}

func TestInvalidateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t1, err := f.mgr.Create(ctx, f.user.ID, "laptop", "")
	require.NoError(t, err)
	t2, err := f.mgr.Create(ctx, f.user.ID, "phone", "")
	require.NoError(t, err)
	_, err = f.mgr.Validate(ctx, t1)
	require.NoError(t, err)

	require.NoError(t, f.mgr.InvalidateAll(ctx, f.user.ID))

	_, err = f.mgr.Validate(ctx, t1)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.mgr.Validate(ctx, t2)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	f.advance(DefaultTTL + time.Minute)
	n, err := f.mgr.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// brokenCache errors on every operation.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, assert.AnError }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return assert.AnError
}
func (brokenCache) Delete(context.Context, string) error { return assert.AnError }

func TestValidate_BrokenCacheFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.mgr.cache = brokenCache{}
	ctx := context.Background()

	token, err := f.mgr.Create(ctx, f.user.ID, "", "")
	require.NoError(t, err)

	got, err := f.mgr.Validate(ctx, token)
	require.NoError(t, err, "a broken cache must not reject a valid session")
	assert.Equal(t, f.user.ID, got.ID)

	_, err = f.mgr.Validate(ctx, "nonsense")
	assert.ErrorIs(t, err, ErrUnauthenticated, "a broken cache must not admit an invalid token")

	require.NoError(t, f.mgr.Invalidate(ctx, token))
	_, err = f.mgr.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
