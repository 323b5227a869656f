package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/xtxerr/replay/internal/errors"
)

// codec decodes and encodes chunk payloads for one numcodecs compressor.
type codec interface {
	Decode(src []byte) ([]byte, error)
	Encode(src []byte) ([]byte, error)
	Spec() *CompressorSpec
}

// codecFor returns the codec of spec. typesize is the scalar size of the
// array, which Blosc shuffles by.
func codecFor(spec *CompressorSpec, typesize int) (codec, error) {
	if spec == nil {
		return rawCodec{}, nil
	}
	switch spec.ID {
	case "zlib":
		return zlibCodec{level: spec.Level}, nil
	case "gzip":
		return gzipCodec{level: spec.Level}, nil
	case "zstd":
		return newZstdCodec(spec.Level)
	case "blosc":
		c, err := newBloscCodec(*spec, typesize)
		if err != nil {
			return nil, fmt.Errorf("compressor %q: %w: %v", spec.ID, errors.ErrUnsupportedStore, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("compressor %q: %w", spec.ID, errors.ErrUnsupportedStore)
	}
}

// Compressor names accepted by the writer.
const (
	CompressorNone  = ""
	CompressorZlib  = "zlib"
	CompressorGzip  = "gzip"
	CompressorZstd  = "zstd"
	CompressorBlosc = "blosc"
)

type rawCodec struct{}

func (rawCodec) Decode(src []byte) ([]byte, error) { return src, nil }
func (rawCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (rawCodec) Spec() *CompressorSpec             { return nil }

type zlibCodec struct {
	level int
}

func (c zlibCodec) Decode(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c zlibCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, levelOr(c.level, zlib.DefaultCompression))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c zlibCodec) Spec() *CompressorSpec { return &CompressorSpec{ID: "zlib", Level: c.level} }

type gzipCodec struct {
	level int
}

func (c gzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, levelOr(c.level, gzip.DefaultCompression))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c gzipCodec) Spec() *CompressorSpec { return &CompressorSpec{ID: "gzip", Level: c.level} }

// zstdCodec shares one decoder and encoder; both are safe for concurrent
// DecodeAll/EncodeAll calls.
type zstdCodec struct {
	level int
	dec   *zstd.Decoder
	enc   *zstd.Encoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	encLevel := zstd.SpeedDefault
	if level > 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		dec.Close()
		return nil, err
	}
	return &zstdCodec{level: level, dec: dec, enc: enc}, nil
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, nil)
}

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Spec() *CompressorSpec { return &CompressorSpec{ID: "zstd", Level: c.level} }

func levelOr(level, def int) int {
	if level == 0 {
		return def
	}
	return level
}
