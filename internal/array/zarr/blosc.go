package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Blosc 1.x frame layout:
//
//	0  version       1 byte
//	1  versionlz     1 byte
//	2  flags         1 byte
//	3  typesize      1 byte
//	4  nbytes        uint32 LE, uncompressed size
//	8  blocksize     uint32 LE
//	12 ctbytes       uint32 LE, frame size
//	16 bstarts       int32 LE per block, offsets from frame start
//
// Each block holds one stream, or typesize streams when split. A stream is
// an int32 LE compressed size followed by the payload; a size equal to the
// uncompressed stream size means the payload is stored as is.
const (
	bloscHeaderSize = 16
	bloscVersion    = 2

	bloscShuffle    = 0x01
	bloscMemcpyed   = 0x02
	bloscBitShuffle = 0x04
	bloscDontSplit  = 0x10

	bloscMaxSplits     = 16
	bloscMinBufferSize = 128
)

// Blosc inner compressor codes (flags >> 5).
const (
	bloscCodeBloscLZ = 0
	bloscCodeLZ4     = 1
	bloscCodeSnappy  = 2
	bloscCodeZlib    = 3
	bloscCodeZstd    = 4
)

var bloscCodes = map[string]int{
	"lz4":  bloscCodeLZ4,
	"zlib": bloscCodeZlib,
	"zstd": bloscCodeZstd,
}

// bloscCodec decodes numcodecs Blosc chunks with lz4, zlib or zstd inner
// compressors and byte shuffle. typesize is the array's scalar size, used
// for shuffling when encoding. Encoding always writes a single block.
type bloscCodec struct {
	spec     CompressorSpec
	typesize int
	zdec     *zstd.Decoder
	zenc     *zstd.Encoder
}

func newBloscCodec(spec CompressorSpec, typesize int) (*bloscCodec, error) {
	if spec.Cname == "" {
		spec.Cname = "lz4"
	}
	if _, ok := bloscCodes[spec.Cname]; !ok {
		return nil, fmt.Errorf("blosc cname %q: not supported", spec.Cname)
	}
	if spec.Shuffle != 0 && spec.Shuffle != 1 {
		return nil, fmt.Errorf("blosc shuffle %d: only byte shuffle is supported", spec.Shuffle)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(max(spec.Clevel, 1))))
	if err != nil {
		dec.Close()
		return nil, err
	}
	return &bloscCodec{spec: spec, typesize: typesize, zdec: dec, zenc: enc}, nil
}

func (c *bloscCodec) Spec() *CompressorSpec {
	spec := c.spec
	return &spec
}

// =============================================================================
// Decoding
// =============================================================================

func (c *bloscCodec) Decode(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderSize {
		return nil, fmt.Errorf("blosc: frame of %d bytes is shorter than the header", len(src))
	}
	flags := src[2]
	typesize := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:]))
	blocksize := int(binary.LittleEndian.Uint32(src[8:]))
	ctbytes := int(binary.LittleEndian.Uint32(src[12:]))

	if ctbytes > len(src) {
		return nil, fmt.Errorf("blosc: frame claims %d bytes, have %d", ctbytes, len(src))
	}
	if flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+nbytes > ctbytes {
			return nil, fmt.Errorf("blosc: stored frame too short")
		}
		return append([]byte(nil), src[bloscHeaderSize:bloscHeaderSize+nbytes]...), nil
	}
	if flags&bloscBitShuffle != 0 {
		return nil, fmt.Errorf("blosc: bit shuffle is not supported")
	}
	if nbytes == 0 {
		return []byte{}, nil
	}
	if blocksize <= 0 || typesize <= 0 {
		return nil, fmt.Errorf("blosc: blocksize %d, typesize %d", blocksize, typesize)
	}

	code := int(flags >> 5)
	nblocks := (nbytes + blocksize - 1) / blocksize
	leftover := nbytes % blocksize
	if bloscHeaderSize+4*nblocks > ctbytes {
		return nil, fmt.Errorf("blosc: %d block offsets do not fit", nblocks)
	}

	out := make([]byte, nbytes)
	for b := 0; b < nblocks; b++ {
		bsize := blocksize
		last := b == nblocks-1 && leftover > 0
		if last {
			bsize = leftover
		}
		offset := int(int32(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*b:])))
		if offset < 0 || offset > ctbytes {
			return nil, fmt.Errorf("blosc: block %d offset %d out of range", b, offset)
		}

		block := out[b*blocksize : b*blocksize+bsize]
		nsplits := 1
		if flags&bloscDontSplit == 0 && !last && typesize <= bloscMaxSplits && bsize%typesize == 0 {
			nsplits = typesize
		}
		if err := c.decodeBlock(src[offset:ctbytes], block, nsplits, code); err != nil {
			return nil, fmt.Errorf("blosc: block %d: %w", b, err)
		}

		if flags&bloscShuffle != 0 && typesize > 1 {
			unshuffle(block, typesize)
		}
	}
	return out, nil
}

// decodeBlock fills dst from nsplits consecutive streams at the start of src.
func (c *bloscCodec) decodeBlock(src, dst []byte, nsplits, code int) error {
	neblock := len(dst) / nsplits
	pos := 0
	for j := 0; j < nsplits; j++ {
		if pos+4 > len(src) {
			return fmt.Errorf("stream %d header truncated", j)
		}
		cbytes := int(int32(binary.LittleEndian.Uint32(src[pos:])))
		pos += 4
		if cbytes < 0 || pos+cbytes > len(src) {
			return fmt.Errorf("stream %d of %d bytes truncated", j, cbytes)
		}
		payload := src[pos : pos+cbytes]
		pos += cbytes

		part := dst[j*neblock : (j+1)*neblock]
		if cbytes == neblock {
			copy(part, payload)
			continue
		}
		if err := c.decompress(code, payload, part); err != nil {
			return fmt.Errorf("stream %d: %w", j, err)
		}
	}
	return nil
}

func (c *bloscCodec) decompress(code int, src, dst []byte) error {
	var (
		n   int
		err error
	)
	switch code {
	case bloscCodeLZ4:
		n, err = lz4.UncompressBlock(src, dst)
	case bloscCodeZlib:
		var r io.ReadCloser
		r, err = zlib.NewReader(bytes.NewReader(src))
		if err == nil {
			n, err = io.ReadFull(r, dst)
			r.Close()
		}
	case bloscCodeZstd:
		var out []byte
		out, err = c.zdec.DecodeAll(src, dst[:0])
		n = len(out)
	default:
		return fmt.Errorf("inner compressor %d is not supported", code)
	}
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("decompressed %d bytes, want %d", n, len(dst))
	}
	return nil
}

// =============================================================================
// Encoding
// =============================================================================

func (c *bloscCodec) Encode(src []byte) ([]byte, error) {
	code := bloscCodes[c.spec.Cname]
	typesize := max(c.typesize, 1)
	if typesize > 255 || len(src)%typesize != 0 {
		typesize = 1
	}

	flags := byte(code << 5)
	block := append([]byte(nil), src...)
	if c.spec.Shuffle == 1 && typesize > 1 {
		flags |= bloscShuffle
		shuffle(block, typesize)
	}

	nsplits := 1
	if typesize <= bloscMaxSplits && len(block)/typesize >= bloscMinBufferSize {
		nsplits = typesize
	} else {
		flags |= bloscDontSplit
	}

	out := make([]byte, bloscHeaderSize+4, bloscHeaderSize+4+len(src)+4*nsplits)
	out[0] = bloscVersion
	out[1] = 1
	out[3] = byte(typesize)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[bloscHeaderSize:], uint32(bloscHeaderSize+4))

	if len(src) > 0 {
		neblock := len(block) / nsplits
		for j := 0; j < nsplits; j++ {
			part := block[j*neblock : (j+1)*neblock]
			comp, err := c.compress(code, part)
			if err != nil {
				return nil, err
			}
			if len(comp) == 0 || len(comp) >= len(part) {
				comp = part
			}
			out = binary.LittleEndian.AppendUint32(out, uint32(len(comp)))
			out = append(out, comp...)
		}
	}

	out[2] = flags
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out, nil
}

func (c *bloscCodec) compress(code int, src []byte) ([]byte, error) {
	switch code {
	case bloscCodeLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case bloscCodeZlib:
		return zlibCodec{level: c.spec.Clevel}.Encode(src)
	default:
		return c.zenc.EncodeAll(src, nil), nil
	}
}

// =============================================================================
// Byte shuffle
// =============================================================================

// shuffle groups byte j of every element together: out[j*n+i] = in[i*ts+j].
// Trailing bytes that do not fill an element stay in place.
func shuffle(data []byte, typesize int) {
	n := len(data) / typesize
	tmp := make([]byte, n*typesize)
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			tmp[j*n+i] = data[i*typesize+j]
		}
	}
	copy(data, tmp)
}

func unshuffle(data []byte, typesize int) {
	n := len(data) / typesize
	tmp := make([]byte, n*typesize)
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			tmp[i*typesize+j] = data[j*n+i]
		}
	}
	copy(data, tmp)
}
