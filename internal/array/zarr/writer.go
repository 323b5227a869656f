package zarr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/validation"
)

// WriteOptions configures WriteArray.
type WriteOptions struct {
	ChunkLen   int
	Compressor string
	Level      int

	// Cname is the inner compressor of Blosc ("lz4", "zlib", "zstd").
	Cname string

	// DimensionSeparator defaults to ".".
	DimensionSeparator string
}

// InitGroup creates root and its ".zgroup" document.
func InitGroup(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(filepath.Join(root, groupFile), []byte(`{"zarr_format":2}`), 0644)
}

// WriteArray writes data as a new array under root. The last chunk is
// zero-padded to a full chunk, as Zarr stores it.
func WriteArray(root, name string, data *array.Dense, opts WriteOptions) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if opts.ChunkLen <= 0 {
		return errors.NewValidation("chunk_len", "must be positive")
	}
	if err := validation.ValidateChannelName(name); err != nil {
		return errors.NewValidation("name", err.Error())
	}

	var spec *CompressorSpec
	switch opts.Compressor {
	case CompressorNone:
	case CompressorBlosc:
		spec = &CompressorSpec{ID: CompressorBlosc, Cname: opts.Cname, Clevel: opts.Level, Shuffle: 1}
	default:
		spec = &CompressorSpec{ID: opts.Compressor, Level: opts.Level}
	}
	c, err := codecFor(spec, data.DType.Size())
	if err != nil {
		return err
	}

	sep := opts.DimensionSeparator
	if sep == "" {
		sep = "."
	}

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	shape := append([]int{data.Len}, data.Shape...)
	chunks := append([]int{opts.ChunkLen}, data.Shape...)
	md := Metadata{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		DType:              dtypeString(data.DType),
		Compressor:         c.Spec(),
		Order:              "C",
		DimensionSeparator: sep,
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), raw, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	meta := &arrayMeta{name: name, shape: data.Shape, sep: sep}
	sz := data.ElemSize()
	for k := 0; k < array.ChunkCount(data.Len, opts.ChunkLen); k++ {
		start := k * opts.ChunkLen
		end := min(start+opts.ChunkLen, data.Len)

		buf := make([]byte, opts.ChunkLen*sz)
		copy(buf, data.Data[start*sz:end*sz])

		enc, err := c.Encode(buf)
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", k, err)
		}

		path := filepath.Join(dir, filepath.FromSlash(meta.chunkKey(k)))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if err := os.WriteFile(path, enc, 0644); err != nil {
			return fmt.Errorf("write chunk %d: %w", k, err)
		}
	}
	return nil
}
