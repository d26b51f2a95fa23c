// Package cache keeps recently fetched session snapshots so that switching
// between sessions does not refetch history on every keystroke. Entries
// expire after a TTL and are dropped explicitly when an execution ends.
package cache

import (
	"sync"
	"time"

	"github.com/npratt/tether/internal/clock"
)

// DefaultTTL is used when a cache is created with a non-positive TTL.
const DefaultTTL = 30 * time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a map whose entries expire ttl after they were stored.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	ttl     time.Duration
	clock   clock.Clock

	stopOnce sync.Once
	done     chan struct{}
}

// NewTTL creates an empty cache. A nil clock uses clock.Real.
func NewTTL[K comparable, V any](ttl time.Duration, clk clock.Clock) *TTL[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &TTL[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		clock:   clk,
		done:    make(chan struct{}),
	}
}

// Get returns the value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
}

// Invalidate removes key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// StartCleanup removes expired entries every interval until Close.
func (c *TTL[K, V]) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	ticker := c.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.cleanup()
			case <-c.done:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *TTL[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *TTL[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
