// Package array defines the chunked array store contract the traversal
// engine reads from, the Dense element container, an in-memory store and
// a read-counting decorator.
//
// Concrete backends live in sub-packages:
//   - zarr: Zarr v2 directory stores
//   - parquet: one Parquet file per array, row group = chunk
//   - kv: Badger-backed chunk store
package array

import (
	"context"
	"fmt"

	"github.com/xtxerr/replay/internal/errors"
)

// Info describes one named array.
type Info struct {
	Name string

	// Len is the size along dimension 0.
	Len int

	// ChunkLen is the chunk size along dimension 0.
	ChunkLen int

	DType DType

	// Shape is the per-element shape (dimensions 1..n).
	Shape []int
}

// Store is a read-only chunked array store.
//
// Implementations must tolerate concurrent reads. Errors returned by a
// Store are treated as opaque and are never retried by callers.
type Store interface {
	// ArrayNames enumerates the named arrays in the store.
	ArrayNames(ctx context.Context) ([]string, error)

	// Info reports length, chunk length, dtype and element shape.
	Info(ctx context.Context, name string) (Info, error)

	// Read returns the dense elements [start, end) of the named array.
	Read(ctx context.Context, name string, start, end int) (*Dense, error)
}

// StoreCloser is a Store holding resources that must be released.
type StoreCloser interface {
	Store
	Close() error
}

// CheckRange validates a [start, end) request against an array length.
func CheckRange(name string, start, end, length int) error {
	if start < 0 || end < start || end > length {
		return fmt.Errorf("%s [%d,%d) of length %d: %w", name, start, end, length, errors.ErrInvalidRange)
	}
	return nil
}

// ChunkCount returns ceil(length / chunkLen).
func ChunkCount(length, chunkLen int) int {
	if chunkLen <= 0 {
		return 0
	}
	return (length + chunkLen - 1) / chunkLen
}

// nopCloser adapts a Store to StoreCloser.
type nopCloser struct {
	Store
}

func (nopCloser) Close() error { return nil }

// NopCloser returns a StoreCloser whose Close does nothing.
func NopCloser(s Store) StoreCloser {
	return nopCloser{s}
}
