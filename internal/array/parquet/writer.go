package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/validation"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the number of elements per row group. A row group is
	// the chunk unit reported to readers.
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 1000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Metadata keys stored in the file footer.
const (
	metaDType = "replay.dtype"
	metaShape = "replay.shape"
)

const fileExt = ".parquet"

// ElementRow is one array element in Parquet format.
type ElementRow struct {
	Data []byte `parquet:"data"`
}

// ArrayWriter writes one array to a Parquet file, one row per element.
type ArrayWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ElementRow]
	dtype    array.DType
	shape    []int
	groupLen int
	pending  int
	rowCount int64
	closed   bool
}

// NewArrayWriter creates dir/<name>.parquet for elements of the given dtype
// and per-element shape.
func NewArrayWriter(dir, name string, dtype array.DType, shape []int, opts Options) (*ArrayWriter, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedDType, dtype)
	}
	if opts.RowGroupSize <= 0 {
		return nil, errors.NewValidation("row_group_size", "must be positive")
	}
	if err := validation.ValidateChannelName(name); err != nil {
		return nil, errors.NewValidation("name", err.Error())
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	path := filepath.Join(dir, name+fileExt)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
		parquet.KeyValueMetadata(metaDType, string(dtype)),
		parquet.KeyValueMetadata(metaShape, formatShape(shape)),
	}

	return &ArrayWriter{
		path:     path,
		file:     f,
		writer:   parquet.NewGenericWriter[ElementRow](f, writerOpts...),
		dtype:    dtype,
		shape:    shape,
		groupLen: opts.RowGroupSize,
	}, nil
}

// Write appends the elements of d. Row groups are cut every RowGroupSize
// elements regardless of how writes are split.
func (w *ArrayWriter) Write(d *array.Dense) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DType != w.dtype || formatShape(d.Shape) != formatShape(w.shape) {
		return fmt.Errorf("%w: writer is %s%v, got %s%v",
			errors.ErrUnsupportedDType, w.dtype, w.shape, d.DType, d.Shape)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	for i := 0; i < d.Len; {
		n := min(w.groupLen-w.pending, d.Len-i)
		rows := make([]ElementRow, n)
		for j := range rows {
			rows[j].Data = d.Elem(i + j).Data
		}
		if _, err := w.writer.Write(rows); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		i += n
		w.pending += n
		w.rowCount += int64(n)

		if w.pending == w.groupLen {
			if err := w.writer.Flush(); err != nil {
				return fmt.Errorf("flush row group: %w", err)
			}
			w.pending = 0
		}
	}
	return nil
}

// Close closes the writer.
func (w *ArrayWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ArrayWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ArrayWriter) Path() string {
	return w.path
}

// WriteArray writes d as dir/<name>.parquet in one call.
func WriteArray(dir, name string, d *array.Dense, opts Options) error {
	w, err := NewArrayWriter(dir, name, d.DType, d.Shape, opts)
	if err != nil {
		return err
	}
	if err := w.Write(d); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid shape %q", s)
		}
		shape[i] = n
	}
	return shape, nil
}
