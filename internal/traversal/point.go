package traversal

import (
	"context"
	"io"
	"iter"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/errors"
)

// Point is one sample of one channel.
type Point struct {
	Channel   string
	Index     int
	Timestamp int64
	Value     array.Element
}

// chunkCache holds the single most recently loaded chunk of a channel.
// Entries are replaced wholesale, never patched.
type chunkCache struct {
	index      int
	values     *array.Dense
	timestamps []int64
}

// PointStats reports the work done by a PointTraversal.
type PointStats struct {
	Samples    int
	ChunkLoads map[string]int
}

// PointTraversal interleaves single samples across channels ordered by
// (global index, channel name). Each channel keeps a single-slot chunk
// cache, so a full pass issues exactly ceil(len/chunk) reads per array.
//
// Access within a channel must be monotonic; the single slot would thrash
// otherwise. The traversal itself only ever moves forward.
type PointTraversal struct {
	store    array.Store
	channels []*catalog.Channel
	maxLen   int

	cache map[string]*chunkCache

	// i is the global index; pos is the next channel position within i.
	i   int
	pos int

	samples int
	loads   map[string]int
	err     error
}

// NewPoint creates a point traversal over cat.
func NewPoint(cat *catalog.Catalog) *PointTraversal {
	return &PointTraversal{
		store:    cat.Store(),
		channels: cat.Channels(),
		maxLen:   cat.MaxLen(),
		cache:    make(map[string]*chunkCache),
		loads:    make(map[string]int),
	}
}

// Next returns the next sample, or io.EOF after the last one. Any read
// failure is fatal: it is returned by this and every later call.
func (p *PointTraversal) Next(ctx context.Context) (Point, error) {
	if p.err != nil {
		return Point{}, p.err
	}

	for p.i < p.maxLen {
		for p.pos < len(p.channels) {
			ch := p.channels[p.pos]
			p.pos++
			if p.i >= ch.Len {
				continue
			}

			pt, err := p.sample(ctx, ch, p.i)
			if err != nil {
				p.err = err
				return Point{}, err
			}
			p.samples++
			return pt, nil
		}
		p.i++
		p.pos = 0
	}

	p.err = io.EOF
	return Point{}, io.EOF
}

// sample returns element i of ch, loading its chunk on a cache miss.
func (p *PointTraversal) sample(ctx context.Context, ch *catalog.Channel, i int) (Point, error) {
	required := i / ch.ChunkLen

	entry := p.cache[ch.Name]
	if entry == nil || entry.index != required {
		start := required * ch.ChunkLen
		end := min(start+ch.ChunkLen, ch.Len)

		w, err := readWindow(ctx, p.store, ch, start, end)
		if err != nil {
			return Point{}, err
		}
		entry = &chunkCache{
			index:      required,
			values:     w.Values,
			timestamps: w.Timestamps,
		}
		p.cache[ch.Name] = entry
		p.loads[ch.Name]++
	}

	off := i % ch.ChunkLen
	if entry.values.Len != len(entry.timestamps) || off >= entry.values.Len {
		return Point{}, errors.NewLengthMismatch(ch.Name, entry.values.Len, len(entry.timestamps))
	}

	return Point{
		Channel:   ch.Name,
		Index:     i,
		Timestamp: entry.timestamps[off],
		Value:     entry.values.Elem(off),
	}, nil
}

// All returns an iterator over the remaining samples. Iteration stops after
// the first error, which is yielded once; io.EOF is not yielded.
func (p *PointTraversal) All(ctx context.Context) iter.Seq2[Point, error] {
	return func(yield func(Point, error) bool) {
		for {
			pt, err := p.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(pt, err) || err != nil {
				return
			}
		}
	}
}

// Stats returns the number of samples produced and chunk loads per channel.
func (p *PointTraversal) Stats() PointStats {
	loads := make(map[string]int, len(p.loads))
	for k, v := range p.loads {
		loads[k] = v
	}
	return PointStats{Samples: p.samples, ChunkLoads: loads}
}
