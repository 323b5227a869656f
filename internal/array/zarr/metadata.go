package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
)

const (
	metaFile  = ".zarray"
	groupFile = ".zgroup"
)

// Metadata is the content of a Zarr v2 ".zarray" document.
type Metadata struct {
	ZarrFormat         int              `json:"zarr_format"`
	Shape              []int            `json:"shape"`
	Chunks             []int            `json:"chunks"`
	DType              string           `json:"dtype"`
	Compressor         *CompressorSpec  `json:"compressor"`
	FillValue          *json.RawMessage `json:"fill_value"`
	Order              string           `json:"order"`
	Filters            []map[string]any `json:"filters"`
	DimensionSeparator string           `json:"dimension_separator,omitempty"`
}

// CompressorSpec names a numcodecs compressor.
type CompressorSpec struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`

	// Blosc parameters.
	Cname     string `json:"cname,omitempty"`
	Clevel    int    `json:"clevel,omitempty"`
	Shuffle   int    `json:"shuffle,omitempty"`
	Blocksize int    `json:"blocksize,omitempty"`
}

// arrayMeta is the validated, decoded form of Metadata.
type arrayMeta struct {
	name      string
	length    int
	chunkLen  int
	shape     []int
	dtype     array.DType
	bigEndian bool
	codec     codec
	fill      []byte
	sep       string
}

func (m *arrayMeta) info() array.Info {
	return array.Info{
		Name:     m.name,
		Len:      m.length,
		ChunkLen: m.chunkLen,
		DType:    m.dtype,
		Shape:    m.shape,
	}
}

func (m *arrayMeta) elemSize() int {
	return array.ElemSize(m.dtype, m.shape)
}

// chunkKey returns the store key of chunk k along dimension 0. Chunks span
// the full trailing dimensions, so every other chunk coordinate is 0.
func (m *arrayMeta) chunkKey(k int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(k))
	for range m.shape {
		b.WriteString(m.sep)
		b.WriteString("0")
	}
	return b.String()
}

func parseMetadata(name string, raw []byte) (*arrayMeta, error) {
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%s: parse %s: %w", name, metaFile, err)
	}

	if md.ZarrFormat != 2 {
		return nil, fmt.Errorf("%s: zarr_format %d: %w", name, md.ZarrFormat, errors.ErrUnsupportedStore)
	}
	if len(md.Shape) == 0 || len(md.Chunks) != len(md.Shape) {
		return nil, fmt.Errorf("%s: shape %v / chunks %v: %w", name, md.Shape, md.Chunks, errors.ErrUnsupportedStore)
	}
	if md.Order != "" && md.Order != "C" {
		return nil, fmt.Errorf("%s: order %q: %w", name, md.Order, errors.ErrUnsupportedStore)
	}
	if len(md.Filters) > 0 {
		return nil, fmt.Errorf("%s: filters: %w", name, errors.ErrUnsupportedStore)
	}
	for i := 1; i < len(md.Shape); i++ {
		if md.Chunks[i] != md.Shape[i] {
			return nil, fmt.Errorf("%s: chunked along dimension %d: %w", name, i, errors.ErrUnsupportedStore)
		}
	}
	if md.Chunks[0] <= 0 {
		return nil, fmt.Errorf("%s: chunk length %d: %w", name, md.Chunks[0], errors.ErrUnsupportedStore)
	}

	dtype, bigEndian, err := parseDType(md.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	c, err := codecFor(md.Compressor, dtype.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	sep := md.DimensionSeparator
	if sep == "" {
		sep = "."
	}

	meta := &arrayMeta{
		name:      name,
		length:    md.Shape[0],
		chunkLen:  md.Chunks[0],
		shape:     md.Shape[1:],
		dtype:     dtype,
		bigEndian: bigEndian,
		codec:     c,
		sep:       sep,
	}
	meta.fill = fillBytes(dtype, md.FillValue)
	return meta, nil
}

// parseDType decodes a numpy typestr such as "<f8", "|u1" or ">i4".
func parseDType(s string) (array.DType, bool, error) {
	if len(s) < 3 {
		return "", false, fmt.Errorf("dtype %q: %w", s, errors.ErrUnsupportedDType)
	}

	order, kind := s[0], s[1]
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return "", false, fmt.Errorf("dtype %q: %w", s, errors.ErrUnsupportedDType)
	}

	var dtype array.DType
	switch {
	case kind == 'b' && size == 1:
		dtype = array.Bool
	case kind == 'i':
		dtype = array.DType(fmt.Sprintf("int%d", size*8))
	case kind == 'u':
		dtype = array.DType(fmt.Sprintf("uint%d", size*8))
	case kind == 'f' && (size == 4 || size == 8):
		dtype = array.DType(fmt.Sprintf("float%d", size*8))
	}
	if !dtype.Valid() {
		return "", false, fmt.Errorf("dtype %q: %w", s, errors.ErrUnsupportedDType)
	}

	return dtype, order == '>' && size > 1, nil
}

// dtypeString is the inverse of parseDType for little-endian output.
func dtypeString(d array.DType) string {
	size := d.Size()
	switch d {
	case array.Bool:
		return "|b1"
	case array.Int8:
		return "|i1"
	case array.Uint8:
		return "|u1"
	case array.Float32, array.Float64:
		return fmt.Sprintf("<f%d", size)
	case array.Int16, array.Int32, array.Int64:
		return fmt.Sprintf("<i%d", size)
	default:
		return fmt.Sprintf("<u%d", size)
	}
}

// fillBytes encodes a scalar fill value as one little-endian scalar. A null
// or non-numeric fill value yields zeros.
func fillBytes(dtype array.DType, raw *json.RawMessage) []byte {
	out := make([]byte, dtype.Size())
	if raw == nil {
		return out
	}
	var v float64
	if err := json.Unmarshal(*raw, &v); err != nil || v == 0 {
		return out
	}

	switch dtype {
	case array.Float32:
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(v)))
	case array.Float64:
		binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	default:
		u := uint64(int64(v))
		for i := range out {
			out[i] = byte(u >> (8 * i))
		}
	}
	return out
}

// swapBytes converts big-endian scalars of width size to little-endian in place.
func swapBytes(data []byte, size int) {
	for off := 0; off+size <= len(data); off += size {
		for i, j := off, off+size-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
}
