package zarr

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
)

func TestWriteAndRead_Compressors(t *testing.T) {
	ctx := context.Background()
	data := array.FromFloat32s([]int{3}, []float32{
		0, 1, 2,
		3, 4, 5,
		6, 7, 8,
		9, 10, 11,
		12, 13, 14,
	})

	for _, comp := range []string{CompressorNone, CompressorZlib, CompressorGzip, CompressorZstd} {
		root := t.TempDir()
		if err := InitGroup(root); err != nil {
			t.Fatalf("InitGroup: %v", err)
		}
		if err := WriteArray(root, "pose", data, WriteOptions{ChunkLen: 2, Compressor: comp}); err != nil {
			t.Fatalf("%q: WriteArray: %v", comp, err)
		}

		s, err := Open(root)
		if err != nil {
			t.Fatalf("%q: Open: %v", comp, err)
		}

		info, err := s.Info(ctx, "pose")
		if err != nil {
			t.Fatalf("%q: Info: %v", comp, err)
		}
		if info.Len != 5 || info.ChunkLen != 2 || info.DType != array.Float32 || len(info.Shape) != 1 || info.Shape[0] != 3 {
			t.Errorf("%q: unexpected info %+v", comp, info)
		}

		// Spans the tail of chunk 0, all of chunk 1 and the padded last chunk.
		d, err := s.Read(ctx, "pose", 1, 5)
		if err != nil {
			t.Fatalf("%q: Read: %v", comp, err)
		}
		if !bytes.Equal(d.Data, data.Slice(1, 5).Data) {
			t.Errorf("%q: read mismatch", comp)
		}
	}
}

func TestRead_SlashSeparator(t *testing.T) {
	root := t.TempDir()
	InitGroup(root)
	data := array.FromInt64s([]int64{10, 20, 30})
	if err := WriteArray(root, "x_timestamps", data, WriteOptions{ChunkLen: 2, DimensionSeparator: "/"}); err != nil {
		t.Fatalf("WriteArray: %v", err)
	}

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := s.Read(context.Background(), "x_timestamps", 0, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ts, _ := d.Int64s()
	if ts[0] != 10 || ts[2] != 30 {
		t.Errorf("unexpected timestamps %v", ts)
	}
}

func TestRead_BigEndianAndFill(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "counts")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, metaFile), []byte(`{
		"zarr_format": 2,
		"shape": [4],
		"chunks": [2],
		"dtype": ">i4",
		"compressor": null,
		"fill_value": 7,
		"order": "C",
		"filters": null
	}`), 0644)
	// Chunk 0 only; chunk 1 is missing and reads as the fill value.
	os.WriteFile(filepath.Join(dir, "0"), []byte{0, 0, 0, 1, 0, 0, 1, 0}, 0644)

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := s.Read(context.Background(), "counts", 0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, _ := d.Int64s()
	want := []int64{1, 256, 7, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestParseMetadata_RejectsUnsupported(t *testing.T) {
	cases := map[string]string{
		"blosc-snappy": `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<f8","compressor":{"id":"blosc","cname":"snappy"},"order":"C"}`,
		"blosc-bit":    `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<f8","compressor":{"id":"blosc","cname":"lz4","shuffle":2},"order":"C"}`,
		"lzma":         `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<f8","compressor":{"id":"lzma"},"order":"C"}`,
		"fortran":      `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<f8","compressor":null,"order":"F"}`,
		"2d-chunked":   `{"zarr_format":2,"shape":[4,6],"chunks":[2,3],"dtype":"<f8","compressor":null,"order":"C"}`,
		"v3":           `{"zarr_format":3,"shape":[4],"chunks":[2],"dtype":"<f8"}`,
		"complex":      `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<c8","compressor":null,"order":"C"}`,
		"unicode":      `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<U32","compressor":null,"order":"C"}`,
	}

	for name, doc := range cases {
		_, err := parseMetadata("a", []byte(doc))
		if !errors.Is(err, errors.ErrUnsupportedStore) && !errors.Is(err, errors.ErrUnsupportedDType) {
			t.Errorf("%s: expected unsupported error, got %v", name, err)
		}
	}
}

func TestOpen_SkipsUnsupportedSiblings(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	InitGroup(root)
	WriteArray(root, "a", array.FromInt64s([]int64{1, 2, 3}), WriteOptions{ChunkLen: 2})
	WriteArray(root, "a_timestamps", array.FromInt64s([]int64{10, 20, 30}), WriteOptions{ChunkLen: 2})

	unsupported := map[string]string{
		"task":  `{"zarr_format":2,"shape":[1],"chunks":[1],"dtype":"<U32","compressor":null,"order":"C"}`,
		"notes": `{"zarr_format":2,"shape":[4],"chunks":[2],"dtype":"<f8","compressor":{"id":"lzma"},"order":"C"}`,
	}
	for name, doc := range unsupported {
		dir := filepath.Join(root, name)
		os.MkdirAll(dir, 0755)
		os.WriteFile(filepath.Join(dir, metaFile), []byte(doc), 0644)
	}

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	names, _ := s.ArrayNames(ctx)
	if len(names) != 2 || names[0] != "a" || names[1] != "a_timestamps" {
		t.Errorf("expected [a a_timestamps], got %v", names)
	}
	if skipped := s.Skipped(); len(skipped) != 2 {
		t.Errorf("expected 2 skipped arrays, got %v", skipped)
	}
	if _, err := s.Info(ctx, "task"); !errors.Is(err, errors.ErrArrayNotFound) {
		t.Errorf("expected ErrArrayNotFound for skipped array, got %v", err)
	}

	d, err := s.Read(ctx, "a", 0, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got, _ := d.Int64s()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestOpen_SkipsGroupsAndFiles(t *testing.T) {
	root := t.TempDir()
	InitGroup(root)
	InitGroup(filepath.Join(root, "nested"))
	WriteArray(root, "a", array.FromInt64s([]int64{1}), WriteOptions{ChunkLen: 1})

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	names, _ := s.ArrayNames(context.Background())
	if len(names) != 1 || names[0] != "a" {
		t.Errorf("expected [a], got %v", names)
	}
}

func TestRead_CorruptChunk(t *testing.T) {
	root := t.TempDir()
	WriteArray(root, "a", array.FromInt64s([]int64{1, 2}), WriteOptions{ChunkLen: 2})
	os.WriteFile(filepath.Join(root, "a", "0"), []byte{1, 2, 3}, 0644)

	s, _ := Open(root)
	if _, err := s.Read(context.Background(), "a", 0, 2); !errors.Is(err, errors.ErrCorruptChunk) {
		t.Errorf("expected ErrCorruptChunk, got %v", err)
	}
}
