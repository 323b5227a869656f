// Package wire provides frame encoding for the recording stream.
//
// Frames are protobuf-encoded messages, length-delimited using protobuf's
// standard varint prefix. This allows efficient streaming of
// variable-length frames over TCP.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Reader reads length-delimited frames from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	mu      sync.Mutex
	maxSize int
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, config.DefaultMaxFrameSize)
}

// NewReaderSize creates a Reader that rejects frames larger than maxSize.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: maxSize}
}

// Read reads and decodes the next frame. It returns io.EOF at a clean end
// of stream and io.ErrUnexpectedEOF if the stream ends inside a frame.
func (r *Reader) Read() (*Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	if size > uint64(r.maxSize) {
		return nil, fmt.Errorf("frame of %d bytes: %w", size, errors.ErrFrameTooLarge)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return Unmarshal(buf)
}

// Writer writes length-delimited frames to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w       io.Writer
	mu      sync.Mutex
	maxSize int
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, config.DefaultMaxFrameSize)
}

// NewWriterSize creates a Writer that refuses frames larger than maxSize.
func NewWriterSize(w io.Writer, maxSize int) *Writer {
	return &Writer{w: w, maxSize: maxSize}
}

// Write encodes and writes a frame with length prefix.
func (w *Writer) Write(f *Frame) error {
	buf, err := Encode(f, w.maxSize)
	if err != nil {
		return err
	}
	return w.WriteEncoded(buf)
}

// WriteEncoded writes a frame already produced by Encode.
func (w *Writer) WriteEncoded(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Encode returns the length-prefixed encoding of f. Encoding once and
// writing the result to several connections avoids re-marshalling.
func Encode(f *Frame, maxSize int) ([]byte, error) {
	body := f.Marshal()
	if len(body) > maxSize {
		return nil, fmt.Errorf("frame of %d bytes: %w", len(body), errors.ErrFrameTooLarge)
	}
	buf := make([]byte, 0, protowire.SizeVarint(uint64(len(body)))+len(body))
	buf = protowire.AppendVarint(buf, uint64(len(body)))
	return append(buf, body...), nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		Reader: NewReader(rw),
		Writer: NewWriter(rw),
	}
}
