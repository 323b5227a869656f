package open

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/array/kv"
	"github.com/xtxerr/replay/internal/array/parquet"
	"github.com/xtxerr/replay/internal/array/zarr"
	"github.com/xtxerr/replay/internal/errors"
)

func TestResolve_Schemes(t *testing.T) {
	tests := []struct {
		in     string
		format Format
		path   string
	}{
		{"zarr:///data/ep.zarr", FormatZarr, "/data/ep.zarr"},
		{"parquet:///data/ep", FormatParquet, "/data/ep"},
		{"badger:///var/db", FormatBadger, "/var/db"},
		{"zarr://relative/ep.zarr", FormatZarr, "relative/ep.zarr"},
		{"ZARR:///x", FormatZarr, "/x"},
	}
	for _, tt := range tests {
		format, path, err := Resolve(tt.in)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.in, err)
			continue
		}
		if format != tt.format || path != tt.path {
			t.Errorf("Resolve(%q): expected %s %s, got %s %s", tt.in, tt.format, tt.path, format, path)
		}
	}
}

func TestResolve_UnknownScheme(t *testing.T) {
	if _, _, err := Resolve("s3://bucket/key"); !errors.Is(err, errors.ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore, got %v", err)
	}
}

func TestOpen_DetectsEachFormat(t *testing.T) {
	ctx := context.Background()
	data := array.FromInt64s([]int64{1, 2, 3})

	zarrDir := filepath.Join(t.TempDir(), "ep")
	zarr.InitGroup(zarrDir)
	if err := zarr.WriteArray(zarrDir, "a", data, zarr.WriteOptions{ChunkLen: 2}); err != nil {
		t.Fatalf("zarr.WriteArray: %v", err)
	}

	parquetDir := t.TempDir()
	if err := parquet.WriteArray(parquetDir, "a", data, parquet.DefaultOptions()); err != nil {
		t.Fatalf("parquet.WriteArray: %v", err)
	}

	badgerDir := t.TempDir()
	db, err := kv.Open(kv.Options{Path: badgerDir})
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	if err := db.WriteArray("a", data, 2); err != nil {
		t.Fatalf("kv.WriteArray: %v", err)
	}
	db.Close()

	cases := map[string]Format{
		zarrDir:    FormatZarr,
		parquetDir: FormatParquet,
		badgerDir:  FormatBadger,
	}
	for dir, want := range cases {
		got, err := Detect(dir)
		if err != nil || got != want {
			t.Errorf("Detect(%s): expected %s, got %s (%v)", dir, want, got, err)
			continue
		}

		s, err := Open(dir)
		if err != nil {
			t.Errorf("Open(%s): %v", dir, err)
			continue
		}
		d, err := s.Read(ctx, "a", 0, 3)
		if err != nil {
			t.Errorf("%s: Read: %v", want, err)
		} else if v, _ := d.Int64s(); v[2] != 3 {
			t.Errorf("%s: expected 3, got %d", want, v[2])
		}
		s.Close()
	}
}

func TestDetect_Unknown(t *testing.T) {
	if _, err := Detect(t.TempDir()); !errors.Is(err, errors.ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore, got %v", err)
	}
}
