// Package cache provides a small string-keyed TTL cache used for session
// lookups and dashboard aggregates. Two backends exist: an in-process map for
// single-node deployments and tests, and Redis for shared deployments.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-valued store with per-entry expiry. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds a deterministic cache key from a namespace and parameters.
// Parameters are sorted by name so callers supplying the same set in any
// order produce the same key.
func Key(namespace string, params map[string]string) string {
	if len(params) == 0 {
		return namespace
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(namespace)
	for _, name := range names {
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}

// GetOrCompute returns the cached value for key, or calls produce, caches the
// result for ttl, and returns it. Cache errors other than a miss are treated
// as a miss: the produced value is still returned even if caching it fails.
func GetOrCompute[T any](ctx context.Context, c Cache, key string, ttl time.Duration, produce func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if raw, err := c.Get(ctx, key); err == nil {
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		// Undecodable entry: drop it and recompute.
		_ = c.Delete(ctx, key)
	}

	out, err := produce(ctx)
	if err != nil {
		return out, err
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = c.Set(ctx, key, raw, ttl)
	}
	return out, nil
}
