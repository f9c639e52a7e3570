// Package cache holds the in-process read-through cache used on hot lookup
// paths (limit resolution, directory reads, blocking status) and a small
// Redis-backed claim helper for cross-process event deduplication.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/stratumops/quotawarden/internal/clock"
)

// LoaderFunc produces a fresh value for a key.
type LoaderFunc[V any] func(ctx context.Context) (V, error)

// Cache is a keyed read-through cache with request coalescing. A stale or
// missing key triggers exactly one loader flight; callers arriving while the
// flight is up wait for its outcome instead of loading again. A failed load
// keeps the previous value so a later call can serve stale or retry.
type Cache[V any] struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*entry[V]
}

type entry[V any] struct {
	hasValue    bool
	value       V
	lastUpdated time.Time
	loading     *flight[V]
}

type flight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func New[V any](clk clock.Clock) *Cache[V] {
	if clk == nil {
		clk = clock.System{}
	}
	return &Cache[V]{
		clk:     clk,
		entries: make(map[string]*entry[V]),
	}
}

// Get returns the cached value when it is younger than ttl, otherwise loads
// it. forceRefresh skips the freshness check but still coalesces onto an
// in-flight load.
func (c *Cache[V]) Get(ctx context.Context, key string, ttl time.Duration, forceRefresh bool, loader LoaderFunc[V]) (V, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}

	if !forceRefresh && e.hasValue && c.clk.Now().Sub(e.lastUpdated) < ttl {
		val := e.value
		c.mu.Unlock()
		return val, nil
	}

	if e.loading != nil {
		f := e.loading
		c.mu.Unlock()
		return c.wait(ctx, f)
	}

	f := &flight[V]{done: make(chan struct{})}
	e.loading = f
	c.mu.Unlock()

	val, err := loader(ctx)

	c.mu.Lock()
	// The entry may have been dropped by Clear/Invalidate while loading;
	// waiters still get the result through the flight.
	if cur, ok := c.entries[key]; ok && cur == e {
		e.loading = nil
		if err == nil {
			e.value = val
			e.hasValue = true
			e.lastUpdated = c.clk.Now()
		}
	}
	c.mu.Unlock()

	f.val, f.err = val, err
	close(f.done)
	return val, err
}

func (c *Cache[V]) wait(ctx context.Context, f *flight[V]) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the cached value regardless of age, without loading.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.hasValue {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Invalidate drops a single key. An in-flight load for the key still
// completes for its waiters but its result is discarded.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Len returns the number of cached keys, counting entries still loading.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
