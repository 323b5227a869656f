package array

import (
	"context"
	"testing"

	"github.com/xtxerr/replay/internal/errors"
)

func TestDense_Int64s(t *testing.T) {
	d := FromInt64s([]int64{0, 1_000_000_000, -5})

	got, err := d.Int64s()
	if err != nil {
		t.Fatalf("Int64s: %v", err)
	}
	want := []int64{0, 1_000_000_000, -5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestDense_Int64sFromFloat(t *testing.T) {
	d := FromFloat64s(nil, []float64{1.5e9, 2e9})

	got, err := d.Int64s()
	if err != nil {
		t.Fatalf("Int64s: %v", err)
	}
	if got[0] != 1_500_000_000 || got[1] != 2_000_000_000 {
		t.Errorf("unexpected ticks: %v", got)
	}
}

func TestDense_Int64sRejectsVectors(t *testing.T) {
	d := FromFloat64s([]int{3}, make([]float64, 6))

	if _, err := d.Int64s(); !errors.Is(err, errors.ErrUnsupportedDType) {
		t.Errorf("expected ErrUnsupportedDType, got %v", err)
	}
}

func TestDense_ElemAndSlice(t *testing.T) {
	d := FromFloat32s([]int{2}, []float32{1, 2, 3, 4, 5, 6})

	if d.Len != 3 {
		t.Fatalf("expected len=3, got %d", d.Len)
	}
	if d.ElemSize() != 8 {
		t.Errorf("expected elem size 8, got %d", d.ElemSize())
	}

	vals, err := d.Elem(1).Float64s()
	if err != nil {
		t.Fatalf("Float64s: %v", err)
	}
	if len(vals) != 2 || vals[0] != 3 || vals[1] != 4 {
		t.Errorf("unexpected element 1: %v", vals)
	}

	s := d.Slice(1, 3)
	if s.Len != 2 {
		t.Errorf("expected slice len=2, got %d", s.Len)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDense_ValidateCatchesShortData(t *testing.T) {
	d := &Dense{DType: Int64, Len: 2, Data: make([]byte, 9)}

	if err := d.Validate(); !errors.Is(err, errors.ErrCorruptChunk) {
		t.Errorf("expected ErrCorruptChunk, got %v", err)
	}
}

func TestMemStore_ReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.Put("a", FromInt64s([]int64{1, 2, 3, 4}), 2)

	info, err := m.Info(ctx, "a")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Len != 4 || info.ChunkLen != 2 {
		t.Errorf("unexpected info: %+v", info)
	}

	d, err := m.Read(ctx, "a", 1, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	d.Data[0] = 0xff

	again, _ := m.Read(ctx, "a", 1, 3)
	ticks, _ := again.Int64s()
	if ticks[0] != 2 || ticks[1] != 3 {
		t.Errorf("store data was mutated through a read: %v", ticks)
	}
}

func TestMemStore_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.Put("a", FromInt64s([]int64{1, 2}), 0)

	if _, err := m.Info(ctx, "missing"); !errors.Is(err, errors.ErrArrayNotFound) {
		t.Errorf("expected ErrArrayNotFound, got %v", err)
	}
	if _, err := m.Read(ctx, "a", 1, 5); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}

	info, _ := m.Info(ctx, "a")
	if info.ChunkLen != 2 {
		t.Errorf("zero chunk length should span the array, got %d", info.ChunkLen)
	}
}

func TestCountingStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	m.Put("a", FromInt64s([]int64{1, 2, 3}), 1)
	m.Put("b", FromInt64s([]int64{1}), 1)

	c := NewCountingStore(m)
	for i := 0; i < 3; i++ {
		if _, err := c.Read(ctx, "a", i, i+1); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	c.Read(ctx, "b", 0, 1)

	if c.Reads("a") != 3 {
		t.Errorf("expected 3 reads of a, got %d", c.Reads("a"))
	}
	if c.Total() != 4 {
		t.Errorf("expected 4 total reads, got %d", c.Total())
	}

	c.Reset()
	if c.Total() != 0 || c.Reads("a") != 0 {
		t.Error("Reset should zero counters")
	}
}

func TestChunkCount(t *testing.T) {
	cases := []struct{ length, chunk, want int }{
		{0, 2, 0},
		{3, 2, 2},
		{4, 2, 2},
		{5, 2, 3},
		{1, 100, 1},
	}
	for _, c := range cases {
		if got := ChunkCount(c.length, c.chunk); got != c.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", c.length, c.chunk, got, c.want)
		}
	}
}
