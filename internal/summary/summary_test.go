package summary

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/replay/internal/catalog"
	"github.com/xtxerr/replay/internal/errors"
	testutil "github.com/xtxerr/replay/internal/testing"
	"github.com/xtxerr/replay/internal/traversal"
)

func TestAggregate_Basic(t *testing.T) {
	agg := NewAggregate(0)

	agg.Add(10.0)
	agg.Add(20.0)
	agg.Add(30.0)
	agg.Add(math.NaN())

	if agg.Count() != 3 {
		t.Errorf("expected count=3, got %d", agg.Count())
	}

	result := agg.Result()
	if result.Sum != 60.0 {
		t.Errorf("expected sum=60, got %f", result.Sum)
	}
	if result.Min != 10.0 {
		t.Errorf("expected min=10, got %f", result.Min)
	}
	if result.Max != 30.0 {
		t.Errorf("expected max=30, got %f", result.Max)
	}
	if math.Abs(result.Avg-20.0) > 0.001 {
		t.Errorf("expected avg=20, got %f", result.Avg)
	}
	if result.HasPercentiles() {
		t.Error("should not have percentiles")
	}
}

func TestAggregate_WithPercentiles(t *testing.T) {
	agg := NewDefaultAggregate()

	// 1, 2, 3, ..., 100
	for i := 1; i <= 100; i++ {
		agg.Add(float64(i))
	}

	result := agg.Result()
	if !result.HasPercentiles() {
		t.Fatal("should have percentiles")
	}
	if math.Abs(*result.P50-50.0) > 2.0 {
		t.Errorf("expected P50 near 50, got %f", *result.P50)
	}
	if math.Abs(*result.P99-99.0) > 2.0 {
		t.Errorf("expected P99 near 99, got %f", *result.P99)
	}
}

func TestAggregate_EmptyResult(t *testing.T) {
	result := NewDefaultAggregate().Result()
	if result.Count != 0 || result.HasPercentiles() {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestAggregate_ResetAndMerge(t *testing.T) {
	agg1 := NewDefaultAggregate()
	agg1.Add(10.0)
	agg1.Add(20.0)

	agg2 := NewDefaultAggregate()
	agg2.Add(30.0)
	agg2.Add(40.0)

	agg1.Merge(agg2)
	agg1.Merge(agg1)
	agg1.Merge(nil)

	result := agg1.Result()
	if result.Count != 4 || result.Sum != 100.0 || result.Min != 10.0 || result.Max != 40.0 {
		t.Errorf("unexpected merged result %+v", result)
	}

	agg1.Reset()
	if agg1.Count() != 0 {
		t.Error("aggregate should be empty after reset")
	}
	agg1.Add(5)
	if r := agg1.Result(); r.Min != 5 || r.Max != 5 {
		t.Errorf("expected min=max=5 after reset, got %+v", r)
	}
}

func TestAggregate_Concurrent(t *testing.T) {
	agg := NewDefaultAggregate()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				agg.Add(float64(base*1000 + j))
			}
		}(i)
	}
	wg.Wait()

	if agg.Count() != 10000 {
		t.Errorf("expected count=10000, got %d", agg.Count())
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(
		testutil.Channel("a", 5, 2),
		testutil.Channel("b", 1, 4),
	)
	cat, err := catalog.New(ctx, store)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	channels, err := Summarize(ctx, cat, 2, 0.01)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "a" || channels[1].Name != "b" {
		t.Fatalf("unexpected channels %+v", channels)
	}

	a := channels[0]
	if a.Samples != 5 {
		t.Errorf("expected 5 samples, got %d", a.Samples)
	}
	if a.FirstTs != testutil.TimestampAt(0) || a.LastTs != testutil.TimestampAt(4) {
		t.Errorf("unexpected span %d..%d", a.FirstTs, a.LastTs)
	}
	if a.Span() != 40*time.Millisecond {
		t.Errorf("expected span 40ms, got %v", a.Span())
	}
	if math.Abs(a.RateHz()-100) > 0.001 {
		t.Errorf("expected 100 Hz, got %f", a.RateHz())
	}

	// Intervals across window boundaries are included.
	if a.Intervals.Count != 4 {
		t.Errorf("expected 4 intervals, got %d", a.Intervals.Count)
	}
	if math.Abs(a.Intervals.Avg-10) > 0.001 {
		t.Errorf("expected 10ms mean interval, got %f", a.Intervals.Avg)
	}
	if !a.Intervals.HasPercentiles() || math.Abs(*a.Intervals.P50-10) > 0.2 {
		t.Errorf("expected P50 interval near 10ms, got %+v", a.Intervals)
	}

	off := testutil.Offset("a")
	if a.Values.Min != off || a.Values.Max != off+4 {
		t.Errorf("expected values in [%f, %f], got [%f, %f]", off, off+4, a.Values.Min, a.Values.Max)
	}

	b := channels[1]
	if b.Samples != 1 || b.Intervals.Count != 0 || b.RateHz() != 0 {
		t.Errorf("unexpected single-sample summary %+v", b)
	}
}

func TestSummarize_EmptyChannelKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(
		testutil.Channel("a", 0, 1),
		testutil.Channel("b", 2, 1),
	)
	cat, _ := catalog.New(ctx, store)

	channels, err := Summarize(ctx, cat, 10, 0.01)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "a" || channels[0].Samples != 0 {
		t.Errorf("unexpected channels %+v", channels)
	}
	if channels[0].Span() != 0 {
		t.Errorf("expected zero span, got %v", channels[0].Span())
	}
}

func TestSummarize_Errors(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(testutil.Channel("a", 4, 2))
	cat, _ := catalog.New(ctx, store)

	if _, err := Summarize(ctx, cat, 0, 0.01); !errors.Is(err, errors.ErrInvalidBatchSize) {
		t.Errorf("expected ErrInvalidBatchSize, got %v", err)
	}

	failing := testutil.NewFailingStore(store, "a", 1)
	cat, _ = catalog.New(ctx, failing)
	if _, err := Summarize(ctx, cat, 2, 0.01); !errors.Is(err, errors.ErrStoreIO) {
		t.Errorf("expected ErrStoreIO, got %v", err)
	}
}

func TestBuilder_Points(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(testutil.Channel("a", 3, 2), testutil.Channel("b", 2, 1))
	cat, _ := catalog.New(ctx, store)

	b := NewBuilder(0.01)
	for p, err := range traversal.NewPoint(cat).All(ctx) {
		if err != nil {
			t.Fatalf("point traversal: %v", err)
		}
		b.AddPoint(p)
	}

	result := b.Result()
	if len(result) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(result))
	}
	if result[0].Samples != 3 || result[1].Samples != 2 {
		t.Errorf("unexpected sample counts %d %d", result[0].Samples, result[1].Samples)
	}
}
