package traversal

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/errors"
)

// Window is one channel's contiguous slice [Start, End) within a batch.
type Window struct {
	Channel    string
	Start      int
	End        int
	Values     *array.Dense
	Timestamps []int64
}

// Len returns the number of elements in the window.
func (w Window) Len() int {
	return w.End - w.Start
}

// Batch is one round: a window for every channel that still had unread
// elements at the start of the round, in channel-name order.
type Batch []Window

// BatchTraversal reads all channels in rounds of at most Size elements per
// channel. Each round issues exactly one value read and one timestamp read
// per active channel.
type BatchTraversal struct {
	store    array.Store
	channels []*catalog.Channel
	size     int

	// cursor holds the next unread index per channel.
	cursor map[string]int

	rounds int
	err    error
}

// NewBatch creates a batch traversal over cat. size must be positive.
func NewBatch(cat *catalog.Catalog, size int) (*BatchTraversal, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size %d: %w", size, errors.ErrInvalidBatchSize)
	}

	channels := cat.Channels()
	cursor := make(map[string]int, len(channels))
	for _, ch := range channels {
		cursor[ch.Name] = 0
	}

	return &BatchTraversal{
		store:    cat.Store(),
		channels: channels,
		size:     size,
		cursor:   cursor,
	}, nil
}

// Size returns the configured batch size.
func (b *BatchTraversal) Size() int {
	return b.size
}

// Rounds returns the number of batches produced so far.
func (b *BatchTraversal) Rounds() int {
	return b.rounds
}

// Next returns the next batch, or io.EOF once every channel is exhausted.
// Any read failure is fatal: it is returned by this and every later call.
func (b *BatchTraversal) Next(ctx context.Context) (Batch, error) {
	if b.err != nil {
		return nil, b.err
	}

	var batch Batch
	for _, ch := range b.channels {
		start := b.cursor[ch.Name]
		if start >= ch.Len {
			continue
		}
		end := min(start+b.size, ch.Len)

		w, err := readWindow(ctx, b.store, ch, start, end)
		if err != nil {
			b.err = err
			return nil, err
		}
		batch = append(batch, w)
		b.cursor[ch.Name] = end
	}

	if len(batch) == 0 {
		b.err = io.EOF
		return nil, io.EOF
	}

	b.rounds++
	return batch, nil
}

// All returns an iterator over the remaining batches. Iteration stops after
// the first error, which is yielded once; io.EOF is not yielded.
func (b *BatchTraversal) All(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			batch, err := b.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// readWindow issues one value read and one timestamp read for [start, end).
func readWindow(ctx context.Context, store array.Store, ch *catalog.Channel, start, end int) (Window, error) {
	values, err := store.Read(ctx, ch.ValueArray, start, end)
	if err != nil {
		return Window{}, errors.StoreIO(err, "read", ch.ValueArray)
	}
	tsDense, err := store.Read(ctx, ch.TimestampArray, start, end)
	if err != nil {
		return Window{}, errors.StoreIO(err, "read", ch.TimestampArray)
	}
	ts, err := tsDense.Int64s()
	if err != nil {
		return Window{}, fmt.Errorf("decode %q: %w", ch.TimestampArray, err)
	}

	if values.Len != len(ts) || values.Len != end-start {
		return Window{}, errors.NewLengthMismatch(ch.Name, values.Len, len(ts))
	}

	return Window{
		Channel:    ch.Name,
		Start:      start,
		End:        end,
		Values:     values,
		Timestamps: ts,
	}, nil
}
