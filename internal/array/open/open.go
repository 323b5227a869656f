// Package open resolves store locations to array stores.
//
// Supported forms:
//
//	zarr:///path/to/episode.zarr
//	parquet:///path/to/dir
//	badger:///path/to/db
//	/path/to/episode.zarr      (format detected from directory contents)
package open

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/array/kv"
	"github.com/xtxerr/replay/internal/array/parquet"
	"github.com/xtxerr/replay/internal/array/zarr"
	"github.com/xtxerr/replay/internal/errors"
)

// Format names a store backend.
type Format string

const (
	FormatZarr    Format = "zarr"
	FormatParquet Format = "parquet"
	FormatBadger  Format = "badger"
)

// Formats lists the supported formats.
var Formats = []Format{FormatZarr, FormatParquet, FormatBadger}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnsupportedStore, s)
}

// Open opens the store at location.
func Open(location string) (array.StoreCloser, error) {
	format, path, err := Resolve(location)
	if err != nil {
		return nil, err
	}
	return OpenFormat(format, path)
}

// OpenFormat opens path as a store of the given format.
func OpenFormat(format Format, path string) (array.StoreCloser, error) {
	var (
		s   array.StoreCloser
		err error
	)
	switch format {
	case FormatZarr:
		s, err = zarr.Open(path)
	case FormatParquet:
		s, err = parquet.Open(path)
	case FormatBadger:
		s, err = kv.Open(kv.Options{Path: path, ReadOnly: true})
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnsupportedStore, format)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", format, path, err)
	}
	return s, nil
}

// Resolve splits location into a format and a filesystem path.
func Resolve(location string) (Format, string, error) {
	if i := strings.Index(location, "://"); i > 0 {
		u, err := url.Parse(location)
		if err != nil {
			return "", "", fmt.Errorf("parse %q: %w", location, err)
		}
		format, err := ParseFormat(u.Scheme)
		if err != nil {
			return "", "", err
		}
		path := u.Path
		if u.Host != "" {
			// zarr://relative/dir
			path = u.Host + u.Path
		}
		if path == "" {
			return "", "", errors.NewValidation("location", "empty path")
		}
		return format, path, nil
	}

	format, err := Detect(location)
	if err != nil {
		return "", "", err
	}
	return format, location, nil
}

// Detect guesses the format of a store directory.
func Detect(dir string) (Format, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", errors.ErrUnsupportedStore, dir)
	}

	if exists(filepath.Join(dir, ".zgroup")) || strings.HasSuffix(dir, ".zarr") {
		return FormatZarr, nil
	}
	if exists(filepath.Join(dir, "MANIFEST")) {
		return FormatBadger, nil
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "*.parquet")); len(matches) > 0 {
		return FormatParquet, nil
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "*", ".zarray")); len(matches) > 0 {
		return FormatZarr, nil
	}
	return "", fmt.Errorf("%w: cannot detect format of %s", errors.ErrUnsupportedStore, dir)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
