package parquet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
)

var log = logging.Component("parquet")

// arrayFile is one open array file. pf holds the parsed footer so reads
// do not parse it again.
type arrayFile struct {
	file *os.File
	pf   *parquet.File
	info array.Info
}

// Store is a read-only array store over a directory of Parquet files, one
// file per array. The chunk length of an array is the row count of its
// first row group.
//
// Store is safe for concurrent use: reads go through io.ReaderAt.
type Store struct {
	dir    string
	names  []string
	arrays map[string]*arrayFile
}

// Open opens every *.parquet file in dir.
func Open(dir string) (*Store, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+fileExt))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	s := &Store{
		dir:    dir,
		arrays: make(map[string]*arrayFile),
	}

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), fileExt)
		af, err := openArrayFile(path, name)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		s.arrays[name] = af
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	log.Debug("parquet store opened", "dir", dir, "arrays", len(s.names))
	return s, nil
}

func openArrayFile(path, name string) (*arrayFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read footer: %w", err)
	}

	dtypeStr, _ := pf.Lookup(metaDType)
	dtype := array.DType(dtypeStr)
	if !dtype.Valid() {
		f.Close()
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedDType, dtypeStr)
	}
	shapeStr, _ := pf.Lookup(metaShape)
	shape, err := parseShape(shapeStr)
	if err != nil {
		f.Close()
		return nil, err
	}

	length := int(pf.NumRows())
	chunkLen := length
	if groups := pf.RowGroups(); len(groups) > 0 {
		chunkLen = int(groups[0].NumRows())
	}
	if chunkLen <= 0 {
		chunkLen = 1
	}

	return &arrayFile{
		file: f,
		pf:   pf,
		info: array.Info{
			Name:     name,
			Len:      length,
			ChunkLen: chunkLen,
			DType:    dtype,
			Shape:    shape,
		},
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// ArrayNames implements array.Store.
func (s *Store) ArrayNames(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out, nil
}

// Info implements array.Store.
func (s *Store) Info(ctx context.Context, name string) (array.Info, error) {
	af, ok := s.arrays[name]
	if !ok {
		return array.Info{}, fmt.Errorf("%q: %w", name, errors.ErrArrayNotFound)
	}
	return af.info, nil
}

// Read implements array.Store.
func (s *Store) Read(ctx context.Context, name string, start, end int) (*array.Dense, error) {
	af, ok := s.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errors.ErrArrayNotFound)
	}
	if err := array.CheckRange(name, start, end, af.info.Len); err != nil {
		return nil, err
	}

	out := array.NewDense(af.info.DType, af.info.Shape, end-start)
	if start == end {
		return out, nil
	}

	reader := parquet.NewGenericReader[ElementRow](af.pf)
	defer reader.Close()

	if err := reader.SeekToRow(int64(start)); err != nil {
		return nil, fmt.Errorf("seek to row %d: %w", start, err)
	}

	rows := make([]ElementRow, end-start)
	read := 0
	for read < len(rows) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := reader.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if read != len(rows) {
		return nil, fmt.Errorf("%s: read %d of %d rows: %w", name, read, len(rows), errors.ErrCorruptChunk)
	}

	sz := out.ElemSize()
	for i, row := range rows {
		if len(row.Data) != sz {
			return nil, fmt.Errorf("%s row %d has %d bytes, want %d: %w",
				name, start+i, len(row.Data), sz, errors.ErrCorruptChunk)
		}
		copy(out.Data[i*sz:], row.Data)
	}
	return out, nil
}

// Close closes all open files.
func (s *Store) Close() error {
	var firstErr error
	for _, af := range s.arrays {
		if err := af.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
