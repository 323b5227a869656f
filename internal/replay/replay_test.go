package replay

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xtxerr/replay/internal/array/zarr"
	"github.com/xtxerr/replay/internal/errors"
	testutil "github.com/xtxerr/replay/internal/testing"
	"github.com/xtxerr/replay/internal/traversal"
	"github.com/xtxerr/replay/internal/wire"
)

// memSink records everything it receives.
type memSink struct {
	mu      sync.Mutex
	logs    []string
	levels  []string
	batches []traversal.Batch
	points  []traversal.Point

	failBatch error
}

func (s *memSink) Log(level, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, level)
	s.logs = append(s.logs, text)
	return nil
}

func (s *memSink) WriteBatch(b traversal.Batch) error {
	if s.failBatch != nil {
		return s.failBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func (s *memSink) WritePoint(p traversal.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return nil
}

func TestRun_ProgressMessages(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(
		testutil.Channel("a", 5, 2),
		testutil.Channel("b", 2, 2),
	)
	sink := &memSink{}

	res, err := Run(ctx, store, sink, Options{Location: "mem://episode", BatchSize: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"mem://episode",
		MsgLoading,
		"Logged data batch #1",
		"Logged data batch #2",
		"Logged data batch #3",
		MsgFinished,
	}
	if len(sink.logs) != len(want) {
		t.Fatalf("expected %d log messages, got %d: %v", len(want), len(sink.logs), sink.logs)
	}
	for i := range want {
		if sink.logs[i] != want[i] {
			t.Errorf("message %d: expected %q, got %q", i, want[i], sink.logs[i])
		}
	}
	if sink.levels[1] != wire.LevelWarn {
		t.Errorf("expected loading message at %s, got %s", wire.LevelWarn, sink.levels[1])
	}

	if res.Channels != 2 || res.Batches != 3 || res.Samples != 7 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.batches) != 3 || len(sink.batches[0]) != 2 || len(sink.batches[2]) != 1 {
		t.Errorf("unexpected batches %d", len(sink.batches))
	}
}

func TestRun_DefaultBatchSize(t *testing.T) {
	store := testutil.NewStore(testutil.Channel("a", 250, 50))
	sink := &memSink{}

	res, err := Run(context.Background(), store, sink, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Batches != 3 {
		t.Errorf("expected 3 batches of the default size, got %d", res.Batches)
	}
}

func TestRun_StoreFailureIsReported(t *testing.T) {
	store := testutil.NewFailingStore(testutil.NewStore(testutil.Channel("a", 4, 2)), "a", 1)
	sink := &memSink{}

	_, err := Run(context.Background(), store, sink, Options{BatchSize: 2})
	if !errors.Is(err, errors.ErrStoreIO) {
		t.Fatalf("expected ErrStoreIO, got %v", err)
	}

	last := len(sink.logs) - 1
	if sink.levels[last] != wire.LevelError || !strings.Contains(sink.logs[last], "injected read failure") {
		t.Errorf("expected error message last, got [%s] %s", sink.levels[last], sink.logs[last])
	}
	for _, msg := range sink.logs {
		if msg == MsgFinished {
			t.Error("did not expect finished message after failure")
		}
	}
}

func TestRun_SinkFailure(t *testing.T) {
	store := testutil.NewStore(testutil.Channel("a", 4, 2))
	sink := &memSink{failBatch: fmt.Errorf("viewer gone")}

	_, err := Run(context.Background(), store, sink, Options{BatchSize: 2})
	if err == nil || !strings.Contains(err.Error(), "write batch 1") {
		t.Errorf("expected batch write error, got %v", err)
	}
}

func TestRun_InvalidBatchSize(t *testing.T) {
	store := testutil.NewStore(testutil.Channel("a", 4, 2))
	_, err := Run(context.Background(), store, &memSink{}, Options{BatchSize: -1})
	if !errors.Is(err, errors.ErrInvalidBatchSize) {
		t.Errorf("expected ErrInvalidBatchSize, got %v", err)
	}
}

func TestRunPoints(t *testing.T) {
	store := testutil.NewStore(
		testutil.Channel("a", 2, 2),
		testutil.Channel("b", 3, 2),
	)
	sink := &memSink{}

	res, err := RunPoints(context.Background(), store, sink, Options{})
	if err != nil {
		t.Fatalf("RunPoints: %v", err)
	}
	if res.Samples != 5 || len(sink.points) != 5 {
		t.Fatalf("expected 5 points, got %d", len(sink.points))
	}

	order := []string{"a0", "b0", "a1", "b1", "b2"}
	for i, p := range sink.points {
		if got := fmt.Sprintf("%s%d", p.Channel, p.Index); got != order[i] {
			t.Errorf("point %d: expected %s, got %s", i, order[i], got)
		}
	}
	if sink.logs[len(sink.logs)-1] != MsgFinished {
		t.Errorf("expected finished message, got %q", sink.logs[len(sink.logs)-1])
	}
}

func TestRunLocation_Zarr(t *testing.T) {
	root := filepath.Join(t.TempDir(), "episode.zarr")
	zarr.InitGroup(root)
	zarr.WriteArray(root, "a", testutil.Values("a", 3), zarr.WriteOptions{ChunkLen: 2})
	zarr.WriteArray(root, "a_timestamps", testutil.Timestamps(3), zarr.WriteOptions{ChunkLen: 2})

	sink := &memSink{}
	res, err := RunLocation(context.Background(), "zarr://"+root, sink, Options{BatchSize: 10})
	if err != nil {
		t.Fatalf("RunLocation: %v", err)
	}
	if res.Samples != 3 || res.Batches != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if sink.logs[0] != "zarr://"+root || sink.logs[1] != MsgLoading {
		t.Errorf("unexpected leading messages %v", sink.logs[:2])
	}
}

func TestRunLocation_OpenFailure(t *testing.T) {
	sink := &memSink{}
	_, err := RunLocation(context.Background(), "s3://bucket/ep", sink, Options{})
	if !errors.Is(err, errors.ErrUnsupportedStore) {
		t.Errorf("expected ErrUnsupportedStore, got %v", err)
	}
	if sink.levels[len(sink.levels)-1] != wire.LevelError {
		t.Error("expected failure to be reported to the sink")
	}
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	store := testutil.NewStore(testutil.Channel("a", 2, 2))

	if _, err := RunPoints(context.Background(), store, NewTextSink(&buf), Options{}); err != nil {
		t.Fatalf("RunPoints: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[WARN] "+MsgLoading) {
		t.Errorf("expected loading line, got:\n%s", out)
	}
	if !strings.Contains(out, fmt.Sprintf("%g", testutil.Offset("a")+1)) {
		t.Errorf("expected value of a[1], got:\n%s", out)
	}
	if !strings.Contains(out, "[INFO] "+MsgFinished) {
		t.Errorf("expected finished line, got:\n%s", out)
	}
}

func TestRunLocation_Points(t *testing.T) {
	root := filepath.Join(t.TempDir(), "episode.zarr")
	zarr.InitGroup(root)
	zarr.WriteArray(root, "a", testutil.Values("a", 3), zarr.WriteOptions{ChunkLen: 2})
	zarr.WriteArray(root, "a_timestamps", testutil.Timestamps(3), zarr.WriteOptions{ChunkLen: 2})

	sink := &memSink{}
	res, err := RunLocation(context.Background(), root, sink, Options{Points: true})
	if err != nil {
		t.Fatalf("RunLocation: %v", err)
	}
	if res.Samples != 3 || len(sink.points) != 3 || len(sink.batches) != 0 {
		t.Errorf("expected 3 points and no batches, got %d points %d batches", len(sink.points), len(sink.batches))
	}
}
