package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/xtxerr/replay/internal/array"
)

func float64Ramp(n, width int) *array.Dense {
	vals := make([]float64, n*width)
	for i := range vals {
		vals[i] = float64(i%97) * 0.25
	}
	return array.FromFloat64s([]int{width}, vals)
}

func TestBlosc_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	// 40 elements of 7 float64 per chunk split into 8 streams; 3 per chunk
	// fall below the split threshold.
	for _, chunkLen := range []int{40, 3} {
		for _, cname := range []string{"lz4", "zlib", "zstd"} {
			data := float64Ramp(100, 7)
			root := t.TempDir()
			InitGroup(root)
			opts := WriteOptions{ChunkLen: chunkLen, Compressor: CompressorBlosc, Cname: cname, Level: 5}
			if err := WriteArray(root, "pose", data, opts); err != nil {
				t.Fatalf("%s/%d: WriteArray: %v", cname, chunkLen, err)
			}

			s, err := Open(root)
			if err != nil {
				t.Fatalf("%s/%d: Open: %v", cname, chunkLen, err)
			}
			d, err := s.Read(ctx, "pose", 5, 97)
			if err != nil {
				t.Fatalf("%s/%d: Read: %v", cname, chunkLen, err)
			}
			if !bytes.Equal(d.Data, data.Slice(5, 97).Data) {
				t.Errorf("%s/%d: read mismatch", cname, chunkLen)
			}
		}
	}
}

// bloscFrame builds a frame from already shuffled, stored streams.
func bloscFrame(flags byte, typesize, blocksize int, blocks [][][]byte) []byte {
	nbytes := 0
	for _, streams := range blocks {
		for _, st := range streams {
			nbytes += len(st)
		}
	}

	out := make([]byte, bloscHeaderSize+4*len(blocks))
	out[0] = bloscVersion
	out[1] = 1
	out[2] = flags
	out[3] = byte(typesize)
	binary.LittleEndian.PutUint32(out[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(out[8:], uint32(blocksize))
	for b, streams := range blocks {
		binary.LittleEndian.PutUint32(out[bloscHeaderSize+4*b:], uint32(len(out)))
		for _, st := range streams {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(st)))
			out = append(out, st...)
		}
	}
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out
}

func TestBlosc_DecodeSplitBlocksWithLeftover(t *testing.T) {
	// Ten int32 values, blocks of 8 values: one full split block and a
	// leftover block of 2 values in a single stream.
	want := make([]byte, 40)
	for i := 0; i < 10; i++ {
		binary.LittleEndian.PutUint32(want[4*i:], uint32(0x01020300+i))
	}

	block0 := append([]byte(nil), want[:32]...)
	shuffle(block0, 4)
	block1 := append([]byte(nil), want[32:]...)
	shuffle(block1, 4)

	frame := bloscFrame(bloscShuffle|bloscCodeLZ4<<5, 4, 32, [][][]byte{
		{block0[0:8], block0[8:16], block0[16:24], block0[24:32]},
		{block1},
	})

	c, err := newBloscCodec(CompressorSpec{ID: CompressorBlosc}, 4)
	if err != nil {
		t.Fatalf("newBloscCodec: %v", err)
	}
	got, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBlosc_DecodeMemcpyed(t *testing.T) {
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frame := make([]byte, bloscHeaderSize)
	frame[0] = bloscVersion
	frame[2] = bloscMemcpyed
	frame[3] = 8
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(want)))
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(want)))
	frame = append(frame, want...)
	binary.LittleEndian.PutUint32(frame[12:], uint32(len(frame)))

	c, _ := newBloscCodec(CompressorSpec{ID: CompressorBlosc}, 8)
	got, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBlosc_DecodeRejectsDamagedFrames(t *testing.T) {
	c, _ := newBloscCodec(CompressorSpec{ID: CompressorBlosc}, 4)
	good, err := c.Encode(make([]byte, 64))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	bitshuffled := append([]byte(nil), good...)
	bitshuffled[2] |= bloscBitShuffle

	for name, frame := range map[string][]byte{
		"short":      good[:10],
		"truncated":  good[:len(good)-1],
		"bitshuffle": bitshuffled,
	} {
		if _, err := c.Decode(frame); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestShuffleRoundTrip(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwx")
	buf := append([]byte(nil), data...)
	shuffle(buf, 8)
	if bytes.Equal(buf, data) {
		t.Fatal("expected shuffled bytes to differ")
	}
	if buf[0] != 'a' || buf[1] != 'i' || buf[2] != 'q' {
		t.Errorf("unexpected shuffled prefix %q", buf[:3])
	}
	unshuffle(buf, 8)
	if !bytes.Equal(buf, data) {
		t.Errorf("expected %q, got %q", data, buf)
	}
}
