// Package cache provides a small thread-safe cache with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL maps keys to values that expire a fixed duration after they were put.
// Expired entries are invisible to readers and dropped on the next write.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]entry[V]
	now     func() time.Time
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *TTL[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     o.now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry.
func (c *TTL[K, V]) Put(key K, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(now)
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// Clear drops every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len returns the number of live entries.
func (c *TTL[K, V]) Len() int {
	return len(c.Values())
}

// Values returns a snapshot of all live values in no particular order.
func (c *TTL[K, V]) Values() []V {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	values := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			values = append(values, e.value)
		}
	}
	return values
}

func (c *TTL[K, V]) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
