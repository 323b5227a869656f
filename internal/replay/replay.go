// Package replay streams an episode store into a sink: it logs progress
// text, builds the channel catalog and forwards every batch (or point) of
// a traversal.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/array/open"
	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/traversal"
	"github.com/xtxerr/replay/internal/wire"
)

var log = logging.Component("replay")

// Progress messages sent to the sink.
const (
	MsgLoading  = "Loading data..."
	MsgBatch    = "Logged data batch #%d"
	MsgFinished = "All data has been logged!"
)

// Sink receives replayed data. recording.Recording implements it.
type Sink interface {
	Log(level, text string) error
	WriteBatch(batch traversal.Batch) error
	WritePoint(p traversal.Point) error
}

// Options configures a replay.
type Options struct {
	// Location is logged to the sink before loading. Informational only.
	Location string

	// BatchSize is the number of elements per channel per batch.
	BatchSize int

	// Points selects point mode in RunLocation.
	Points bool
}

// Result summarizes a finished replay.
type Result struct {
	Channels int
	Batches  int
	Samples  int
	Warnings int
	Duration time.Duration
}

// Run streams store into sink in batch mode. Errors are logged to the sink
// at error level and returned.
func Run(ctx context.Context, store array.Store, sink Sink, opts Options) (Result, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = config.DefaultBatchSize
	}

	start := time.Now()
	cat, err := begin(ctx, store, sink, opts)
	if err != nil {
		return Result{}, fail(ctx, sink, err)
	}

	t, err := traversal.NewBatch(cat, opts.BatchSize)
	if err != nil {
		return Result{}, fail(ctx, sink, err)
	}

	res := Result{Channels: cat.Len(), Warnings: len(cat.Warnings())}
	for batch, err := range t.All(ctx) {
		if err != nil {
			return res, fail(ctx, sink, err)
		}
		if err := sink.WriteBatch(batch); err != nil {
			return res, fail(ctx, sink, fmt.Errorf("write batch %d: %w", res.Batches+1, err))
		}
		res.Batches++
		for _, w := range batch {
			res.Samples += w.Len()
		}
		if err := sink.Log(wire.LevelInfo, fmt.Sprintf(MsgBatch, res.Batches)); err != nil {
			return res, fail(ctx, sink, err)
		}
	}

	return finish(ctx, sink, res, start)
}

// RunPoints streams store into sink one sample at a time, in timestamp
// index order across channels.
func RunPoints(ctx context.Context, store array.Store, sink Sink, opts Options) (Result, error) {
	start := time.Now()
	cat, err := begin(ctx, store, sink, opts)
	if err != nil {
		return Result{}, fail(ctx, sink, err)
	}

	t := traversal.NewPoint(cat)
	res := Result{Channels: cat.Len(), Warnings: len(cat.Warnings())}
	for p, err := range t.All(ctx) {
		if err != nil {
			return res, fail(ctx, sink, err)
		}
		if err := sink.WritePoint(p); err != nil {
			return res, fail(ctx, sink, fmt.Errorf("write point %s[%d]: %w", p.Channel, p.Index, err))
		}
		res.Samples++
	}

	return finish(ctx, sink, res, start)
}

// RunLocation opens the store at location, replays it and closes it.
func RunLocation(ctx context.Context, location string, sink Sink, opts Options) (Result, error) {
	if err := sink.Log(wire.LevelInfo, location); err != nil {
		return Result{}, err
	}
	opts.Location = ""

	store, err := open.Open(location)
	if err != nil {
		return Result{}, fail(ctx, sink, err)
	}
	defer store.Close()

	if opts.Points {
		return RunPoints(ctx, store, sink, opts)
	}
	return Run(ctx, store, sink, opts)
}

func begin(ctx context.Context, store array.Store, sink Sink, opts Options) (*catalog.Catalog, error) {
	if opts.Location != "" {
		if err := sink.Log(wire.LevelInfo, opts.Location); err != nil {
			return nil, err
		}
	}
	if err := sink.Log(wire.LevelWarn, MsgLoading); err != nil {
		return nil, err
	}

	cat, err := catalog.New(ctx, store)
	if err != nil {
		return nil, err
	}

	logging.WithContext(ctx).Info("catalog built",
		"channels", cat.Len(),
		"warnings", len(cat.Warnings()),
		"max_len", cat.MaxLen())
	return cat, nil
}

func finish(ctx context.Context, sink Sink, res Result, start time.Time) (Result, error) {
	res.Duration = time.Since(start)
	if err := sink.Log(wire.LevelInfo, MsgFinished); err != nil {
		return res, err
	}

	logging.WithContext(ctx).Info("replay finished",
		"channels", res.Channels,
		"batches", res.Batches,
		"samples", res.Samples,
		"duration", res.Duration)
	return res, nil
}

// fail reports err to the sink and returns it unchanged.
func fail(ctx context.Context, sink Sink, err error) error {
	logging.WithContext(ctx).Error("replay failed", "error", err)
	if logErr := sink.Log(wire.LevelError, err.Error()); logErr != nil {
		log.Debug("could not report failure to sink", "error", logErr)
	}
	return err
}
