// Package cache provides a generic time-boxed key/value cache with lazy
// eviction. It has no knowledge of domain types; callers derive canonical
// keys with DeriveKey.
package cache

import (
	"sync"
	"time"
)

// entry pairs a cached value with its storage time.
type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Cache is a TTL cache. An entry expires when now - storedAt > ttl and is
// deleted lazily on the next Get.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]
	ttl     time.Duration
	now     func() time.Time
}

// Option configures the Cache.
type Option[T any] func(*Cache[T])

// WithNowFunc overrides the time source, used by tests to advance virtual
// time deterministically.
func WithNowFunc[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

// New creates a cache with the given TTL.
func New[T any](ttl time.Duration, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		entries: make(map[string]entry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. A stale entry is deleted and
// reported as a miss; a later Get cannot resurrect it.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value under key, replacing any existing entry. Two racing
// writers for the same key are fine; the last Set wins.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: value, storedAt: c.now()}
}

// Clear removes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

// SetTTL changes the expiry window for subsequent lookups. Existing entries
// are re-evaluated against the new TTL on their next Get.
func (c *Cache[T]) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Len returns the number of entries currently held, including any that have
// expired but not yet been evicted.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
