package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := NewMemory(0)
	m.nowF = func() time.Time { return now }
	t.Cleanup(m.Close)
	return m, &now
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("stats", map[string]string{"week": "2026-11", "role": "reviewer"})
	b := Key("stats", map[string]string{"role": "reviewer", "week": "2026-11"})
	assert.Equal(t, a, b)
	assert.Equal(t, "stats:role=reviewer:week=2026-11", a)
}

func TestKey_NoParams(t *testing.T) {
	assert.Equal(t, "queue-stats", Key("queue-stats", nil))
}

func TestKey_DistinctValues(t *testing.T) {
	a := Key("stats", map[string]string{"week": "2026-11"})
	b := Key("stats", map[string]string{"week": "2026-12"})
	assert.NotEqual(t, a, b)
}

func TestMemory_GetSetDelete(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Expiry(t *testing.T) {
	m, now := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	*now = now.Add(59 * time.Second)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	*now = now.Add(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Sweep(t *testing.T) {
	m, now := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "old", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "new", []byte("2"), time.Hour))

	*now = now.Add(2 * time.Minute)
	m.sweep()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.NotContains(t, m.entries, "old")
	assert.Contains(t, m.entries, "new")
}

func TestGetOrCompute_ProducesOncePerTTL(t *testing.T) {
	m, now := newTestMemory(t)
	ctx := context.Background()

	calls := 0
	produce := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}

	got, err := GetOrCompute(ctx, m, "answer", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = GetOrCompute(ctx, m, "answer", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls, "second call within TTL should hit the cache")

	*now = now.Add(2 * time.Minute)
	_, err = GetOrCompute(ctx, m, "answer", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry should be recomputed")
}

func TestGetOrCompute_ProduceError(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	wantErr := assert.AnError
	_, err := GetOrCompute(ctx, m, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss, "failed computations must not be cached")
}

// failingCache always errors, to verify GetOrCompute degrades to computing.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, assert.AnError }

func (failingCache) Set(context.Context, string, []byte, time.Duration) error { return assert.AnError }

func (failingCache) Delete(context.Context, string) error { return assert.AnError }

func TestGetOrCompute_CacheFailureFallsThrough(t *testing.T) {
	got, err := GetOrCompute(context.Background(), failingCache{}, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}
