package array

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/replay/internal/errors"
)

// DType identifies the element type of an array. Values are stored
// little-endian in Dense.Data.
type DType string

const (
	Bool    DType = "bool"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the width of one scalar in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// ElemSize returns the byte width of one element with the given per-element
// shape.
func ElemSize(dtype DType, shape []int) int {
	n := dtype.Size()
	for _, s := range shape {
		n *= s
	}
	return n
}

// Dense is a contiguous run of elements read from an array. Each element has
// the same per-element Shape (the array's shape without dimension 0).
// The engine treats element payloads as opaque bytes and only ever looks at
// Len.
type Dense struct {
	DType DType
	Shape []int
	Len   int
	Data  []byte
}

// NewDense allocates a zeroed Dense of n elements.
func NewDense(dtype DType, shape []int, n int) *Dense {
	return &Dense{
		DType: dtype,
		Shape: shape,
		Len:   n,
		Data:  make([]byte, n*ElemSize(dtype, shape)),
	}
}

// ElemSize returns the byte width of one element.
func (d *Dense) ElemSize() int {
	return ElemSize(d.DType, d.Shape)
}

// Elem returns element i. The returned Data aliases d.Data.
func (d *Dense) Elem(i int) Element {
	sz := d.ElemSize()
	return Element{
		DType: d.DType,
		Shape: d.Shape,
		Data:  d.Data[i*sz : (i+1)*sz : (i+1)*sz],
	}
}

// Slice returns the elements [start, end) as a Dense sharing d's storage.
func (d *Dense) Slice(start, end int) *Dense {
	sz := d.ElemSize()
	return &Dense{
		DType: d.DType,
		Shape: d.Shape,
		Len:   end - start,
		Data:  d.Data[start*sz : end*sz : end*sz],
	}
}

// Validate checks that Data holds exactly Len elements.
func (d *Dense) Validate() error {
	if !d.DType.Valid() {
		return fmt.Errorf("%w: %q", errors.ErrUnsupportedDType, d.DType)
	}
	if want := d.Len * d.ElemSize(); len(d.Data) != want {
		return fmt.Errorf("%w: %d bytes for %d elements of %d bytes",
			errors.ErrCorruptChunk, len(d.Data), d.Len, d.ElemSize())
	}
	return nil
}

// Int64s decodes a scalar integer (or float) array into int64 values.
// It is used for timestamp arrays, which hold nanosecond ticks.
func (d *Dense) Int64s() ([]int64, error) {
	if d.ElemSize() != d.DType.Size() {
		return nil, fmt.Errorf("%w: timestamps must be scalar, got shape %v",
			errors.ErrUnsupportedDType, d.Shape)
	}
	out := make([]int64, d.Len)
	sz := d.DType.Size()
	for i := range out {
		v, err := scalarInt64(d.DType, d.Data[i*sz:(i+1)*sz])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Element is one opaque sample payload: a scalar, vector or image.
type Element struct {
	DType DType
	Shape []int
	Data  []byte
}

// Count returns the number of scalars in the element.
func (e Element) Count() int {
	n := 1
	for _, s := range e.Shape {
		n *= s
	}
	return n
}

// Float64s decodes the element's scalars as float64.
func (e Element) Float64s() ([]float64, error) {
	sz := e.DType.Size()
	if sz == 0 {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedDType, e.DType)
	}
	out := make([]float64, len(e.Data)/sz)
	for i := range out {
		v, err := scalarFloat64(e.DType, e.Data[i*sz:(i+1)*sz])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func scalarInt64(dtype DType, b []byte) (int64, error) {
	switch dtype {
	case Int8:
		return int64(int8(b[0])), nil
	case Uint8, Bool:
		return int64(b[0]), nil
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case Uint16:
		return int64(binary.LittleEndian.Uint16(b)), nil
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case Uint32:
		return int64(binary.LittleEndian.Uint32(b)), nil
	case Int64:
		return int64(binary.LittleEndian.Uint64(b)), nil
	case Uint64:
		return int64(binary.LittleEndian.Uint64(b)), nil
	case Float32:
		return int64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case Float64:
		return int64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	default:
		return 0, fmt.Errorf("%w: %q", errors.ErrUnsupportedDType, dtype)
	}
}

func scalarFloat64(dtype DType, b []byte) (float64, error) {
	switch dtype {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b)), nil
	default:
		v, err := scalarInt64(dtype, b)
		return float64(v), err
	}
}

// =============================================================================
// Constructors
// =============================================================================

// FromInt64s builds a scalar int64 Dense.
func FromInt64s(vals []int64) *Dense {
	d := NewDense(Int64, nil, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(d.Data[i*8:], uint64(v))
	}
	return d
}

// FromFloat64s builds a Dense of float64 elements with the given
// per-element shape. len(vals) must be a multiple of the element count.
func FromFloat64s(shape []int, vals []float64) *Dense {
	per := Element{Shape: shape}.Count()
	d := NewDense(Float64, shape, len(vals)/per)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(d.Data[i*8:], math.Float64bits(v))
	}
	return d
}

// FromFloat32s builds a Dense of float32 elements with the given
// per-element shape.
func FromFloat32s(shape []int, vals []float32) *Dense {
	per := Element{Shape: shape}.Count()
	d := NewDense(Float32, shape, len(vals)/per)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(d.Data[i*4:], math.Float32bits(v))
	}
	return d
}

// FromBytes builds a uint8 Dense (e.g. images) with the given per-element shape.
func FromBytes(shape []int, data []byte) *Dense {
	per := Element{Shape: shape}.Count()
	return &Dense{
		DType: Uint8,
		Shape: shape,
		Len:   len(data) / per,
		Data:  data,
	}
}
