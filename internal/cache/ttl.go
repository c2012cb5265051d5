// Package cache provides a per-key TTL cache with copy-on-write slots.
package cache

import (
	"sync"
	"time"

	"equity_go/pkg/clock"
)

// Entry is an immutable cached value and its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// TTL caches values per key for a fixed window.
// Writers build a complete Entry and swap the slot in one step, so readers see
// either the old entry or the new one, never a partial write. The lock only
// guards the map slot; callers fetch outside of it.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
	ttl     time.Duration
	clock   clock.Clock
}

// NewTTL creates a cache. A nil clock uses the system clock.
func NewTTL[V any](ttl time.Duration, clk clock.Clock) *TTL[V] {
	if clk == nil {
		clk = clock.System{}
	}
	return &TTL[V]{
		entries: make(map[string]*Entry[V]),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get returns the value for key if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()

	if e == nil || !c.clock.Now().Before(e.ExpiresAt) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key, expiring one TTL from now. Last write wins.
func (c *TTL[V]) Set(key string, value V) {
	e := &Entry[V]{Value: value, ExpiresAt: c.clock.Now().Add(c.ttl)}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Delete drops key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet overwritten.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the configured window.
func (c *TTL[V]) TTL() time.Duration {
	return c.ttl
}
