package array

import (
	"context"
	"sync"
)

// CountingStore wraps a Store and counts Read calls per array. Every Read
// is one storage round trip.
type CountingStore struct {
	Store

	mu    sync.Mutex
	reads map[string]int
	total int
}

// NewCountingStore wraps s.
func NewCountingStore(s Store) *CountingStore {
	return &CountingStore{
		Store: s,
		reads: make(map[string]int),
	}
}

// Read counts the call, then delegates.
func (c *CountingStore) Read(ctx context.Context, name string, start, end int) (*Dense, error) {
	c.mu.Lock()
	c.reads[name]++
	c.total++
	c.mu.Unlock()

	return c.Store.Read(ctx, name, start, end)
}

// Reads returns the number of Read calls issued for name.
func (c *CountingStore) Reads(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[name]
}

// Total returns the number of Read calls across all arrays.
func (c *CountingStore) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Snapshot returns a copy of the per-array counters.
func (c *CountingStore) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.reads))
	for k, v := range c.reads {
		out[k] = v
	}
	return out
}

// Reset zeroes all counters.
func (c *CountingStore) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = make(map[string]int)
	c.total = 0
}
