// Package cache provides a small time-to-live cache for read paths.
//
// It exists to spare the backend from high-frequency reads such as a
// portfolio value polled every few seconds. It must never be consulted to
// authorize a mutation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value   V
	fetched time.Time
}

// TTL maps keys to values that expire a fixed duration after they were
// fetched.
type TTL[K comparable, V any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[K]entry[V]

	// OnHit and OnMiss, when set, are called on every lookup.
	OnHit  func()
	OnMiss func()
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]entry[V]),
	}
}

// WithClock replaces time.Now. It returns c for chaining in tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.fetched) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, fetched now.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, fetched: c.now()}
}

// Invalidate drops key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// GetOrFetch returns the cached value or calls fetch and caches its
// result. Concurrent misses for the same key share one fetch. Errors are
// not cached.
func (c *TTL[K, V]) GetOrFetch(ctx context.Context, key K, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		if c.OnHit != nil {
			c.OnHit()
		}
		return v, nil
	}
	if c.OnMiss != nil {
		c.OnMiss()
	}

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
