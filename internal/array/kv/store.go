// Package kv implements an array store on top of a Badger key/value
// database.
//
// Each array is kept under two key families:
//
//	meta/<name>          JSON-encoded array metadata
//	chunk/<name>/<idx>   LZMA-compressed chunk payload, idx zero-padded
//
// Chunks hold ChunkLen elements except the last, which holds the remainder.
package kv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/ulikunitz/xz/lzma"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/validation"
)

var log = logging.Component("kv")

const (
	metaPrefix  = "meta/"
	chunkPrefix = "chunk/"
)

// meta is the stored metadata document for one array.
type meta struct {
	DType    array.DType `json:"dtype"`
	Shape    []int       `json:"shape,omitempty"`
	Len      int         `json:"len"`
	ChunkLen int         `json:"chunk_len"`
}

func metaKey(name string) []byte {
	return []byte(metaPrefix + name)
}

func chunkKey(name string, idx int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", chunkPrefix, name, idx))
}

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in memory.
	InMemory bool

	// ReadOnly opens the database without write access.
	ReadOnly bool
}

// Store is an array store backed by Badger.
type Store struct {
	db     *badger.DB
	ownsDB bool

	mu     sync.RWMutex
	arrays map[string]meta
}

// Open opens or creates a Badger database.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(badgerLogger{}).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *badger.DB) (*Store, error) {
	s := &Store{
		db:     db,
		arrays: make(map[string]meta),
	}
	if err := s.loadMeta(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadMeta() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), metaPrefix)

			var m meta
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode metadata %q: %w", name, err)
			}
			if !m.DType.Valid() {
				return fmt.Errorf("%q: %w: %q", name, errors.ErrUnsupportedDType, m.DType)
			}
			if m.ChunkLen <= 0 {
				return fmt.Errorf("%q: chunk_len %d: %w", name, m.ChunkLen, errors.ErrUnsupportedStore)
			}
			s.arrays[name] = m
		}
		return nil
	})
}

// DB returns the underlying database.
func (s *Store) DB() *badger.DB {
	return s.db
}

// ArrayNames implements array.Store.
func (s *Store) ArrayNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.arrays))
	for name := range s.arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Info implements array.Store.
func (s *Store) Info(ctx context.Context, name string) (array.Info, error) {
	s.mu.RLock()
	m, ok := s.arrays[name]
	s.mu.RUnlock()
	if !ok {
		return array.Info{}, fmt.Errorf("%q: %w", name, errors.ErrArrayNotFound)
	}
	return array.Info{
		Name:     name,
		Len:      m.Len,
		ChunkLen: m.ChunkLen,
		DType:    m.DType,
		Shape:    append([]int(nil), m.Shape...),
	}, nil
}

// Read implements array.Store.
func (s *Store) Read(ctx context.Context, name string, start, end int) (*array.Dense, error) {
	s.mu.RLock()
	m, ok := s.arrays[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errors.ErrArrayNotFound)
	}
	if err := array.CheckRange(name, start, end, m.Len); err != nil {
		return nil, err
	}

	out := array.NewDense(m.DType, m.Shape, end-start)
	if start == end {
		return out, nil
	}
	sz := out.ElemSize()

	err := s.db.View(func(txn *badger.Txn) error {
		for k := start / m.ChunkLen; k*m.ChunkLen < end; k++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			chunkStart := k * m.ChunkLen
			chunkEnd := min(chunkStart+m.ChunkLen, m.Len)

			item, err := txn.Get(chunkKey(name, k))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", k, err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", k, err)
			}
			data, err := decompress(raw)
			if err != nil {
				return fmt.Errorf("chunk %d: %w: %v", k, errors.ErrCorruptChunk, err)
			}
			if len(data) != (chunkEnd-chunkStart)*sz {
				return fmt.Errorf("chunk %d has %d bytes, want %d: %w",
					k, len(data), (chunkEnd-chunkStart)*sz, errors.ErrCorruptChunk)
			}

			from := max(start, chunkStart)
			to := min(end, chunkEnd)
			copy(out.Data[(from-start)*sz:], data[(from-chunkStart)*sz:(to-chunkStart)*sz])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// WriteArray stores d under name, replacing any previous array of that name.
func (s *Store) WriteArray(name string, d *array.Dense, chunkLen int) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if chunkLen <= 0 {
		return errors.NewValidation("chunk_len", "must be positive")
	}
	if err := validation.ValidateChannelName(name); err != nil {
		return errors.NewValidation("name", err.Error())
	}

	if err := s.deleteChunks(name); err != nil {
		return err
	}

	m := meta{DType: d.DType, Shape: d.Shape, Len: d.Len, ChunkLen: chunkLen}
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	sz := d.ElemSize()
	for k := 0; k < array.ChunkCount(d.Len, chunkLen); k++ {
		start := k * chunkLen
		end := min(start+chunkLen, d.Len)

		enc, err := compress(d.Data[start*sz : end*sz])
		if err != nil {
			return fmt.Errorf("compress chunk %d: %w", k, err)
		}
		if err := wb.Set(chunkKey(name, k), enc); err != nil {
			return fmt.Errorf("write chunk %d: %w", k, err)
		}
	}
	if err := wb.Set(metaKey(name), doc); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	s.mu.Lock()
	s.arrays[name] = m
	s.mu.Unlock()

	log.Debug("array written", "name", name, "len", d.Len, "chunk_len", chunkLen)
	return nil
}

func (s *Store) deleteChunks(name string) error {
	prefix := []byte(chunkPrefix + name + "/")
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// badgerLogger routes Badger's internal logging through slog. Info and
// debug output is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
