// Package summary computes per-channel statistics from a traversal:
// sample counts, time span, sample-interval percentiles and value ranges.
package summary

import (
	"context"
	"time"

	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/traversal"
)

// Channel is the summary of one channel.
type Channel struct {
	Name    string
	Samples int64
	FirstTs int64
	LastTs  int64

	// Intervals holds the gaps between consecutive timestamps in
	// milliseconds.
	Intervals Stats

	// Values holds every numeric component of every element.
	// Empty when the element dtype is not numeric.
	Values Stats
}

// Span returns the time between the first and last sample.
func (c Channel) Span() time.Duration {
	if c.Samples == 0 {
		return 0
	}
	return time.Duration(c.LastTs - c.FirstTs)
}

// RateHz returns the mean sample rate.
func (c Channel) RateHz() float64 {
	span := c.Span()
	if span <= 0 || c.Samples < 2 {
		return 0
	}
	return float64(c.Samples-1) / span.Seconds()
}

// channelAgg accumulates one channel.
type channelAgg struct {
	samples   int64
	firstTs   int64
	lastTs    int64
	intervals *Aggregate
	values    *Aggregate
}

// Builder accumulates channel summaries from batches.
type Builder struct {
	accuracy float64
	order    []string
	channels map[string]*channelAgg
}

// NewBuilder creates a builder. accuracy is the relative accuracy of the
// interval percentiles.
func NewBuilder(accuracy float64) *Builder {
	return &Builder{
		accuracy: accuracy,
		channels: make(map[string]*channelAgg),
	}
}

func (b *Builder) channel(name string) *channelAgg {
	c, ok := b.channels[name]
	if !ok {
		c = &channelAgg{
			intervals: NewAggregate(b.accuracy),
			values:    NewAggregate(0),
		}
		b.channels[name] = c
		b.order = append(b.order, name)
	}
	return c
}

// AddWindow adds the samples of one batch window. Windows of a channel
// must arrive in index order.
func (b *Builder) AddWindow(w traversal.Window) {
	c := b.channel(w.Channel)
	for i, ts := range w.Timestamps {
		c.addTimestamp(ts)
		if w.Values != nil && i < w.Values.Len {
			if vals, err := w.Values.Elem(i).Float64s(); err == nil {
				for _, v := range vals {
					c.values.Add(v)
				}
			}
		}
	}
}

// AddBatch adds every window of a batch.
func (b *Builder) AddBatch(batch traversal.Batch) {
	for _, w := range batch {
		b.AddWindow(w)
	}
}

// AddPoint adds a single sample.
func (b *Builder) AddPoint(p traversal.Point) {
	c := b.channel(p.Channel)
	c.addTimestamp(p.Timestamp)
	if vals, err := p.Value.Float64s(); err == nil {
		for _, v := range vals {
			c.values.Add(v)
		}
	}
}

func (c *channelAgg) addTimestamp(ts int64) {
	if c.samples == 0 {
		c.firstTs = ts
	} else {
		c.intervals.Add(float64(ts-c.lastTs) / float64(time.Millisecond))
	}
	c.lastTs = ts
	c.samples++
}

// Result returns the summaries in the order channels were first seen.
func (b *Builder) Result() []Channel {
	out := make([]Channel, 0, len(b.order))
	for _, name := range b.order {
		c := b.channels[name]
		out = append(out, Channel{
			Name:      name,
			Samples:   c.samples,
			FirstTs:   c.firstTs,
			LastTs:    c.lastTs,
			Intervals: c.intervals.Result(),
			Values:    c.values.Result(),
		})
	}
	return out
}

// Summarize walks cat with a batch traversal and returns one summary per
// channel, in catalog order.
func Summarize(ctx context.Context, cat *catalog.Catalog, batchSize int, accuracy float64) ([]Channel, error) {
	t, err := traversal.NewBatch(cat, batchSize)
	if err != nil {
		return nil, err
	}

	b := NewBuilder(accuracy)
	// Catalog order for channels that turn out empty.
	for _, name := range cat.Names() {
		b.channel(name)
	}

	for batch, err := range t.All(ctx) {
		if err != nil {
			return nil, err
		}
		b.AddBatch(batch)
	}
	return b.Result(), nil
}
