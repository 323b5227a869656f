package client

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/replay/internal/recording"
	testutil "github.com/xtxerr/replay/internal/testing"
	"github.com/xtxerr/replay/internal/wire"
)

func newRecording(t *testing.T) *recording.Recording {
	t.Helper()
	rec, err := recording.New(recording.Options{EpisodeID: 1, ListenHost: "127.0.0.1", PublicAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

// collector gathers frames delivered to OnFrame.
type collector struct {
	mu     sync.Mutex
	frames []*wire.Frame
}

func (c *collector) add(f *wire.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		if f.Kind == wire.KindLog {
			out = append(out, f.Text)
		}
	}
	return out
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"replay://127.0.0.1:9001/proxy", "127.0.0.1:9001", false},
		{"replay://[::1]:9001/proxy", "[::1]:9001", false},
		{"127.0.0.1:9001", "127.0.0.1:9001", false},
		{"http://127.0.0.1:9001/proxy", "", true},
		{"replay://127.0.0.1/proxy", "", true},
		{"nonsense", "", true},
	}
	for _, tt := range tests {
		got, err := ParseURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ParseURL(%q): expected ErrInvalidURL, got %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseURL(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestClient_ReceivesFrames(t *testing.T) {
	rec := newRecording(t)
	rec.Log(wire.LevelWarn, "Loading data...")

	c := New(&Config{URL: rec.URL})
	col := &collector{}
	c.OnFrame(col.add)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if c.RecordingID() != rec.ID {
		t.Errorf("expected recording id %s, got %s", rec.ID, c.RecordingID())
	}
	if !c.IsConnected() {
		t.Errorf("expected connected, got %s", c.State())
	}

	rec.Log(wire.LevelInfo, "Logged data batch #1")

	err := testutil.Eventually(2*time.Second, 10*time.Millisecond, func() bool {
		return len(col.texts()) == 2
	})
	if err != nil {
		t.Fatalf("expected backlog and live message, got %v", col.texts())
	}
	texts := col.texts()
	if texts[0] != "Loading data..." || texts[1] != "Logged data batch #1" {
		t.Errorf("unexpected messages %v", texts)
	}
	if c.Frames() != 2 {
		t.Errorf("expected 2 frames after hello, got %d", c.Frames())
	}
}

func TestClient_DisconnectOnRecordingClose(t *testing.T) {
	rec := newRecording(t)

	c := New(&Config{URL: rec.URL})
	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) { disconnected <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	testutil.Eventually(2*time.Second, 10*time.Millisecond, func() bool { return rec.Viewers() == 1 })

	rec.Close()

	select {
	case err := <-disconnected:
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			t.Logf("disconnect error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected disconnect callback")
	}
	if c.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close after disconnect: %v", err)
	}
}

func TestClient_CloseAndReconnect(t *testing.T) {
	rec := newRecording(t)
	c := New(&Config{URL: rec.URL})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !c.IsConnected() {
		t.Errorf("expected connected after reconnect, got %s", c.State())
	}

	c.Close()
	c.Close()
	if !c.IsClosed() {
		t.Errorf("expected closed, got %s", c.State())
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestClient_BadHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		wire.NewWriter(conn).Write(wire.NewLog(wire.LevelInfo, "no hello"))
		time.Sleep(100 * time.Millisecond)
	}()

	c := New(&Config{URL: "replay://" + ln.Addr().String() + "/proxy"})
	if err := c.Connect(context.Background()); !errors.Is(err, ErrBadHandshake) {
		t.Errorf("expected ErrBadHandshake, got %v", err)
	}
	if c.State() != StateDisconnected.String() {
		t.Errorf("expected disconnected, got %s", c.State())
	}
}
