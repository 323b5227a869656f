package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/array"
)

// ChannelSpec describes one synthetic channel.
type ChannelSpec struct {
	Name     string
	Len      int
	ChunkLen int
}

// Channel is shorthand for a ChannelSpec.
func Channel(name string, length, chunkLen int) ChannelSpec {
	return ChannelSpec{Name: name, Len: length, ChunkLen: chunkLen}
}

// NewStore builds an in-memory store holding one value/timestamp pair per
// spec. Values of channel c at index i are float64(i) + Offset(c); the
// timestamp at index i is TimestampAt(i).
func NewStore(specs ...ChannelSpec) *array.MemStore {
	m := array.NewMemStore()
	for _, s := range specs {
		m.Put(s.Name, Values(s.Name, s.Len), s.ChunkLen)
		m.Put(s.Name+config.TimestampSuffix, Timestamps(s.Len), s.ChunkLen)
	}
	return m
}

// Values returns the deterministic value array used by NewStore.
func Values(name string, n int) *array.Dense {
	vals := make([]float64, n)
	off := Offset(name)
	for i := range vals {
		vals[i] = float64(i) + off
	}
	return array.FromFloat64s(nil, vals)
}

// Timestamps returns the deterministic timestamp array used by NewStore.
func Timestamps(n int) *array.Dense {
	ts := make([]int64, n)
	for i := range ts {
		ts[i] = TimestampAt(i)
	}
	return array.FromInt64s(ts)
}

// TimestampAt returns the nanosecond tick NewStore assigns to index i.
func TimestampAt(i int) int64 {
	return 1_700_000_000_000_000_000 + int64(i)*10_000_000
}

// Offset returns a per-channel value offset so channels are distinguishable.
func Offset(name string) float64 {
	var h float64
	for _, r := range name {
		h = h*31 + float64(r)
	}
	return h * 1000
}

// =============================================================================
// Failure Injection
// =============================================================================

// FailingStore fails Read calls on one array after a number of successful
// reads.
type FailingStore struct {
	array.Store

	Array string
	After int
	Err   error

	mu    sync.Mutex
	reads int
}

// NewFailingStore wraps s so that reads of name fail after `after`
// successful reads.
func NewFailingStore(s array.Store, name string, after int) *FailingStore {
	return &FailingStore{
		Store: s,
		Array: name,
		After: after,
		Err:   fmt.Errorf("injected read failure on %q", name),
	}
}

// Read implements array.Store.
func (f *FailingStore) Read(ctx context.Context, name string, start, end int) (*array.Dense, error) {
	if name == f.Array {
		f.mu.Lock()
		f.reads++
		n := f.reads
		f.mu.Unlock()
		if n > f.After {
			return nil, f.Err
		}
	}
	return f.Store.Read(ctx, name, start, end)
}

// ShortStore returns fewer elements than requested for one array, simulating
// a store whose timestamp array disagrees with its value array at read time.
type ShortStore struct {
	array.Store
	Array string
}

// Read implements array.Store.
func (s *ShortStore) Read(ctx context.Context, name string, start, end int) (*array.Dense, error) {
	d, err := s.Store.Read(ctx, name, start, end)
	if err != nil || name != s.Array || d.Len == 0 {
		return d, err
	}
	return d.Slice(0, d.Len-1), nil
}
