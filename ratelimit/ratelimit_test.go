package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := New(0)
	s.nowF = func() time.Time { return now }
	t.Cleanup(s.Close)
	return s, &now
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	s, _ := newTestService(t)
	allow := s.Configure("login", 3, time.Minute)

	for i := 0; i < 3; i++ {
		res := allow("10.0.0.1")
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}
}

func TestLimiter_RejectsOverMax(t *testing.T) {
	s, now := newTestService(t)
	allow := s.Configure("login", 3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, allow("10.0.0.1").Allowed)
	}

	res := allow("10.0.0.1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestLimiter_RejectedCallsDoNotExtendWindow(t *testing.T) {
	s, now := newTestService(t)
	allow := s.Configure("login", 1, time.Minute)

	require.True(t, allow("k").Allowed)
	first := allow("k")
	require.False(t, first.Allowed)

	// Hammering the limiter must not push ResetAt forward.
	*now = now.Add(30 * time.Second)
	second := allow("k")
	assert.False(t, second.Allowed)
	assert.Equal(t, first.ResetAt, second.ResetAt)
}

func TestLimiter_WindowReset(t *testing.T) {
	s, now := newTestService(t)
	allow := s.Configure("login", 2, time.Minute)

	require.True(t, allow("k").Allowed)
	require.True(t, allow("k").Allowed)
	require.False(t, allow("k").Allowed)

	*now = now.Add(time.Minute)
	res := allow("k")
	assert.True(t, res.Allowed, "budget should refill once the window ends")
	assert.Equal(t, 1, res.Remaining)
}

func TestLimiter_KeysIndependent(t *testing.T) {
	s, _ := newTestService(t)
	allow := s.Configure("login", 1, time.Minute)

	require.True(t, allow("10.0.0.1").Allowed)
	require.False(t, allow("10.0.0.1").Allowed)
	assert.True(t, allow("10.0.0.2").Allowed, "limits are per key")
}

func TestLimiter_NamespacesIndependent(t *testing.T) {
	s, _ := newTestService(t)
	login := s.Configure("login", 1, time.Minute)
	export := s.Configure("export", 1, time.Minute)

	require.True(t, login("k").Allowed)
	require.False(t, login("k").Allowed)
	assert.True(t, export("k").Allowed, "same key in another namespace has its own budget")
}

func TestLimiter_Sweep(t *testing.T) {
	s, now := newTestService(t)
	allow := s.Configure("login", 5, time.Minute)

	allow("stale")
	*now = now.Add(30 * time.Second)
	allow("fresh")

	*now = now.Add(45 * time.Second) // stale window over, fresh still open
	s.sweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotContains(t, s.windows, "login:stale")
	assert.Contains(t, s.windows, "login:fresh")
}
