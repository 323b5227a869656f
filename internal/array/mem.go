package array

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/replay/internal/errors"
)

// MemStore is an in-memory Store. It is safe for concurrent use.
type MemStore struct {
	mu     sync.RWMutex
	arrays map[string]memArray
}

type memArray struct {
	data     *Dense
	chunkLen int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{arrays: make(map[string]memArray)}
}

// Put stores data under name with the given chunk length along dimension 0.
// A non-positive chunkLen means one chunk spanning the whole array.
func (m *MemStore) Put(name string, data *Dense, chunkLen int) {
	if chunkLen <= 0 {
		chunkLen = max(data.Len, 1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[name] = memArray{data: data, chunkLen: chunkLen}
}

// Delete removes an array.
func (m *MemStore) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arrays, name)
}

// ArrayNames returns the array names in sorted order.
func (m *MemStore) ArrayNames(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.arrays))
	for name := range m.arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Info implements Store.
func (m *MemStore) Info(ctx context.Context, name string) (Info, error) {
	a, err := m.get(name)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:     name,
		Len:      a.data.Len,
		ChunkLen: a.chunkLen,
		DType:    a.data.DType,
		Shape:    a.data.Shape,
	}, nil
}

// Read implements Store. The returned Dense is a copy.
func (m *MemStore) Read(ctx context.Context, name string, start, end int) (*Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := m.get(name)
	if err != nil {
		return nil, err
	}
	if err := CheckRange(name, start, end, a.data.Len); err != nil {
		return nil, err
	}

	view := a.data.Slice(start, end)
	out := &Dense{
		DType: view.DType,
		Shape: view.Shape,
		Len:   view.Len,
		Data:  make([]byte, len(view.Data)),
	}
	copy(out.Data, view.Data)
	return out, nil
}

func (m *MemStore) get(name string) (memArray, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.arrays[name]
	if !ok {
		return memArray{}, fmt.Errorf("%q: %w", name, errors.ErrArrayNotFound)
	}
	return a, nil
}
