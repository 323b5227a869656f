package replay

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/traversal"
)

// TextSink writes a human-readable line per log message, window or point.
//
// TextSink is safe for concurrent use.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer

	// MaxValues caps the number of scalars printed per element.
	MaxValues int
}

// NewTextSink creates a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w, MaxValues: 8}
}

// Log implements Sink.
func (s *TextSink) Log(level, text string) error {
	return s.printf("[%s] %s\n", level, text)
}

// WriteBatch implements Sink.
func (s *TextSink) WriteBatch(batch traversal.Batch) error {
	for _, w := range batch {
		first, last := int64(0), int64(0)
		if len(w.Timestamps) > 0 {
			first = w.Timestamps[0]
			last = w.Timestamps[len(w.Timestamps)-1]
		}
		if err := s.printf("%-24s [%d,%d) %s .. %s\n",
			w.Channel, w.Start, w.End, formatTs(first), formatTs(last)); err != nil {
			return err
		}
	}
	return nil
}

// WritePoint implements Sink.
func (s *TextSink) WritePoint(p traversal.Point) error {
	return s.printf("%s %-24s #%-6d %s\n",
		formatTs(p.Timestamp), p.Channel, p.Index, s.formatElement(p.Value))
}

func (s *TextSink) printf(format string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, format, args...)
	return err
}

func (s *TextSink) formatElement(e array.Element) string {
	if e.Count() > s.MaxValues {
		return fmt.Sprintf("%s%v", e.DType, e.Shape)
	}
	vals, err := e.Float64s()
	if err != nil {
		return fmt.Sprintf("%s%v", e.DType, e.Shape)
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%g", v)
	}
	if len(e.Shape) == 0 && len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatTs(ns int64) string {
	return time.Unix(0, ns).UTC().Format("15:04:05.000000")
}
