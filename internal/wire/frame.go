package wire

import (
	"fmt"

	"github.com/xtxerr/replay/internal/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind identifies the payload of a frame.
type Kind int32

const (
	KindUnknown Kind = iota
	// KindHello is the first frame a viewer receives.
	KindHello
	// KindLog carries a text message.
	KindLog
	// KindWindow carries a contiguous slice of one channel.
	KindWindow
	// KindPoint carries a single sample of one channel.
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindLog:
		return "log"
	case KindWindow:
		return "window"
	case KindPoint:
		return "point"
	default:
		return fmt.Sprintf("unknown(%d)", int32(k))
	}
}

// Log levels carried by log frames.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Field numbers of the frame message.
const (
	fieldKind        protowire.Number = 1
	fieldSeq         protowire.Number = 2
	fieldRecordingID protowire.Number = 3
	fieldLevel       protowire.Number = 4
	fieldText        protowire.Number = 5
	fieldChannel     protowire.Number = 6
	fieldStart       protowire.Number = 7
	fieldTimestamps  protowire.Number = 8
	fieldDType       protowire.Number = 9
	fieldShape       protowire.Number = 10
	fieldData        protowire.Number = 11
)

// Frame is one message of the recording stream.
//
// Hello frames set RecordingID and Text (the episode URL). Log frames set
// Level and Text. Window and point frames set Channel, Start (the index of
// the first element), Timestamps (one per element), DType, Shape (per
// element) and Data (row-major, little-endian).
type Frame struct {
	Kind        Kind
	Seq         uint64
	RecordingID string

	Level string
	Text  string

	Channel    string
	Start      int64
	Timestamps []int64
	DType      string
	Shape      []int
	Data       []byte
}

// Len returns the element count of a window or point frame.
func (f *Frame) Len() int {
	return len(f.Timestamps)
}

// Marshal encodes f in protobuf wire format. Zero-valued fields are
// omitted.
func (f *Frame) Marshal() []byte {
	return f.AppendTo(nil)
}

// AppendTo appends the encoding of f to b.
func (f *Frame) AppendTo(b []byte) []byte {
	if f.Kind != KindUnknown {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Kind))
	}
	if f.Seq != 0 {
		b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Seq)
	}
	b = appendString(b, fieldRecordingID, f.RecordingID)
	b = appendString(b, fieldLevel, f.Level)
	b = appendString(b, fieldText, f.Text)
	b = appendString(b, fieldChannel, f.Channel)
	if f.Start != 0 {
		b = protowire.AppendTag(b, fieldStart, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Start))
	}
	if len(f.Timestamps) > 0 {
		var packed []byte
		for _, ts := range f.Timestamps {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(ts))
		}
		b = protowire.AppendTag(b, fieldTimestamps, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendString(b, fieldDType, f.DType)
	if len(f.Shape) > 0 {
		var packed []byte
		for _, s := range f.Shape {
			packed = protowire.AppendVarint(packed, uint64(s))
		}
		b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(f.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Unmarshal decodes a frame. Unknown fields are skipped.
func Unmarshal(b []byte) (*Frame, error) {
	f := &Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("kind", protowire.ParseError(n))
			}
			f.Kind = Kind(v)
			b = b[n:]

		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("seq", protowire.ParseError(n))
			}
			f.Seq = v
			b = b[n:]

		case num == fieldStart && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("start", protowire.ParseError(n))
			}
			f.Start = int64(v)
			b = b[n:]

		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			if err := f.setBytes(num, v); err != nil {
				return nil, err
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

func (f *Frame) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldRecordingID:
		f.RecordingID = string(v)
	case fieldLevel:
		f.Level = string(v)
	case fieldText:
		f.Text = string(v)
	case fieldChannel:
		f.Channel = string(v)
	case fieldDType:
		f.DType = string(v)
	case fieldData:
		f.Data = append([]byte(nil), v...)
	case fieldTimestamps:
		for len(v) > 0 {
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return malformed("timestamps", protowire.ParseError(n))
			}
			f.Timestamps = append(f.Timestamps, protowire.DecodeZigZag(x))
			v = v[n:]
		}
	case fieldShape:
		for len(v) > 0 {
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return malformed("shape", protowire.ParseError(n))
			}
			f.Shape = append(f.Shape, int(x))
			v = v[n:]
		}
	}
	return nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%s: %w: %v", what, errors.ErrMalformed, err)
}

// =============================================================================
// Frame Constructors
// =============================================================================

// NewHello creates the greeting frame of a recording.
func NewHello(recordingID, url string) *Frame {
	return &Frame{Kind: KindHello, RecordingID: recordingID, Text: url}
}

// NewLog creates a log frame.
func NewLog(level, text string) *Frame {
	return &Frame{Kind: KindLog, Level: level, Text: text}
}

// NewLogf creates a log frame with a formatted message.
func NewLogf(level, format string, args ...interface{}) *Frame {
	return NewLog(level, fmt.Sprintf(format, args...))
}
