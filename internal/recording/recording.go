// Package recording streams replayed episodes to viewers over TCP.
//
// A Recording owns one listening port. Every frame written to it is
// broadcast to all connected viewers; viewers that connect late first
// receive the hello frame and the log backlog.
package recording

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
	"github.com/xtxerr/replay/internal/traversal"
	"github.com/xtxerr/replay/internal/wire"
)

var log = logging.Component("recording")

// Options configures a Recording.
type Options struct {
	// EpisodeID is the episode being replayed.
	EpisodeID int64

	// ListenHost is the interface to bind (default all interfaces).
	ListenHost string

	// Port to listen on. Zero picks an ephemeral port.
	Port int

	// PublicAddress is the host advertised in the URL.
	PublicAddress string

	// SendBuffer is the per-viewer frame queue capacity.
	SendBuffer int

	// MaxFrameSize limits encoded frames.
	MaxFrameSize int

	// LogBacklog is the number of log frames replayed to late viewers.
	LogBacklog int
}

// Recording is a live frame stream for one episode.
//
// Recording is safe for concurrent use.
type Recording struct {
	// Immutable fields (no lock needed)
	ID        string
	EpisodeID int64
	Port      int
	URL       string
	CreatedAt time.Time

	listener     net.Listener
	sendBuffer   int
	maxFrameSize int
	logBacklog   int

	mu         sync.Mutex
	viewers    map[uint64]*viewer
	nextViewer uint64
	hello      []byte
	backlog    [][]byte
	seq        uint64
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a recording and starts accepting viewers.
func New(opts Options) (*Recording, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = config.DefaultViewerSendBuffer
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = config.DefaultMaxFrameSize
	}
	if opts.LogBacklog <= 0 {
		opts.LogBacklog = config.DefaultLogBacklog
	}
	if opts.PublicAddress == "" {
		opts.PublicAddress = config.DefaultPublicAddress
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(opts.ListenHost, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", opts.Port, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	r := &Recording{
		ID:           uuid.NewString(),
		EpisodeID:    opts.EpisodeID,
		Port:         port,
		URL:          URL(opts.PublicAddress, port),
		CreatedAt:    time.Now(),
		listener:     ln,
		sendBuffer:   opts.SendBuffer,
		maxFrameSize: opts.MaxFrameSize,
		logBacklog:   opts.LogBacklog,
		viewers:      make(map[uint64]*viewer),
		done:         make(chan struct{}),
	}

	if err := r.write(wire.NewHello(r.ID, r.URL), true); err != nil {
		ln.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.acceptLoop()

	log.Info("recording started",
		"recording_id", r.ID,
		"episode_id", r.EpisodeID,
		"url", r.URL)
	return r, nil
}

// URL formats the viewer URL of a recording.
func URL(host string, port int) string {
	return fmt.Sprintf("replay://%s/proxy", net.JoinHostPort(host, strconv.Itoa(port)))
}

func (r *Recording) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				log.Error("accept error", "recording_id", r.ID, "error", err)
				if ne, ok := err.(net.Error); ok && !ne.Timeout() {
					return
				}
				continue
			}
		}
		r.addViewer(conn)
	}
}

func (r *Recording) addViewer(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		conn.Close()
		return
	}

	r.nextViewer++
	v := newViewer(r.nextViewer, conn, r.sendBuffer+1+len(r.backlog), r.removeViewer)
	v.send(r.hello)
	for _, data := range r.backlog {
		v.send(data)
	}
	r.viewers[v.id] = v
	v.run()

	log.Info("viewer connected",
		"recording_id", r.ID,
		"viewer", v.id,
		"remote", v.remote)
}

func (r *Recording) removeViewer(v *viewer) {
	r.mu.Lock()
	delete(r.viewers, v.id)
	r.mu.Unlock()
}

// write assigns the next sequence number to f and broadcasts it. Frames
// with keep set are also replayed to viewers that connect later: the
// latest hello frame, then at most logBacklog of the newest other frames.
func (r *Recording) write(f *wire.Frame, keep bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.ErrRecordingClosed
	}

	r.seq++
	f.Seq = r.seq
	data, err := wire.Encode(f, r.maxFrameSize)
	if err != nil {
		r.seq--
		return err
	}

	switch {
	case f.Kind == wire.KindHello:
		r.hello = data
	case keep:
		if len(r.backlog) >= r.logBacklog {
			n := copy(r.backlog, r.backlog[1:])
			r.backlog = r.backlog[:n]
		}
		r.backlog = append(r.backlog, data)
	}
	for _, v := range r.viewers {
		v.send(data)
	}
	return nil
}

// WriteFrame broadcasts an arbitrary frame.
func (r *Recording) WriteFrame(f *wire.Frame) error {
	return r.write(f, f.Kind == wire.KindHello || f.Kind == wire.KindLog)
}

// Log emits a text frame at the given level.
func (r *Recording) Log(level, text string) error {
	return r.write(wire.NewLog(level, text), true)
}

// Logf emits a formatted text frame.
func (r *Recording) Logf(level, format string, args ...interface{}) error {
	return r.Log(level, fmt.Sprintf(format, args...))
}

// WriteBatch emits one window frame per window of the batch. A window
// whose frame would exceed the frame size limit is sent as consecutive
// frames of the same channel with advancing Start.
func (r *Recording) WriteBatch(batch traversal.Batch) error {
	for _, w := range batch {
		parts, err := splitWindow(w, r.maxFrameSize)
		if err != nil {
			return fmt.Errorf("channel %s: %w", w.Channel, err)
		}
		for _, p := range parts {
			if err := r.write(WindowFrame(p), false); err != nil {
				return fmt.Errorf("channel %s: %w", w.Channel, err)
			}
		}
	}
	return nil
}

// WritePoint emits one point frame.
func (r *Recording) WritePoint(p traversal.Point) error {
	return r.write(PointFrame(p), false)
}

// Seq returns the sequence number of the last frame written.
func (r *Recording) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Viewers returns the number of connected viewers.
func (r *Recording) Viewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Done is closed once the recording is closed.
func (r *Recording) Done() <-chan struct{} {
	return r.done
}

// IsClosed returns true if the recording is closed.
func (r *Recording) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops accepting viewers and disconnects the connected ones after
// their queued frames are flushed. It is idempotent.
func (r *Recording) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	viewers := make([]*viewer, 0, len(r.viewers))
	for _, v := range r.viewers {
		viewers = append(viewers, v)
	}
	r.mu.Unlock()

	err := r.listener.Close()
	r.wg.Wait()

	var wg sync.WaitGroup
	for _, v := range viewers {
		wg.Add(1)
		go func(v *viewer) {
			defer wg.Done()
			v.close()
		}(v)
	}
	wg.Wait()

	log.Info("recording closed",
		"recording_id", r.ID,
		"episode_id", r.EpisodeID,
		"frames", r.Seq())
	return err
}

// =============================================================================
// Frame Conversion
// =============================================================================

// WindowFrame converts a batch window to a wire frame.
func WindowFrame(w traversal.Window) *wire.Frame {
	f := &wire.Frame{
		Kind:       wire.KindWindow,
		Channel:    w.Channel,
		Start:      int64(w.Start),
		Timestamps: w.Timestamps,
	}
	if w.Values != nil {
		f.DType = string(w.Values.DType)
		f.Shape = w.Values.Shape
		f.Data = w.Values.Data
	}
	return f
}

// Worst-case bytes added to an empty window frame: the Seq and Start
// fields plus the length prefixes of Timestamps and Data, each a tag and a
// 64-bit varint.
const windowFieldSlack = 4 * (1 + binary.MaxVarintLen64)

// splitWindow cuts w into consecutive sub-windows whose encoded frames fit
// in maxSize. It fails with ErrFrameTooLarge when a single element does
// not fit.
func splitWindow(w traversal.Window, maxSize int) ([]traversal.Window, error) {
	n := w.Len()
	if n <= 0 {
		return []traversal.Window{w}, nil
	}

	empty := WindowFrame(traversal.Window{Channel: w.Channel})
	perElem := 0
	if w.Values != nil {
		empty.DType = string(w.Values.DType)
		empty.Shape = w.Values.Shape
		perElem += w.Values.ElemSize()
	}
	if len(w.Timestamps) > 0 {
		perElem += binary.MaxVarintLen64
	}
	overhead := len(empty.Marshal()) + windowFieldSlack

	if overhead+n*perElem <= maxSize {
		return []traversal.Window{w}, nil
	}
	step := 0
	if perElem > 0 {
		step = (maxSize - overhead) / perElem
	}
	if step < 1 {
		return nil, fmt.Errorf("element of %d bytes: %w", perElem, errors.ErrFrameTooLarge)
	}

	parts := make([]traversal.Window, 0, (n+step-1)/step)
	for off := 0; off < n; off += step {
		end := min(off+step, n)
		p := traversal.Window{
			Channel: w.Channel,
			Start:   w.Start + off,
			End:     w.Start + end,
		}
		if w.Values != nil {
			p.Values = w.Values.Slice(off, end)
		}
		if len(w.Timestamps) > 0 {
			p.Timestamps = w.Timestamps[off:end]
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// PointFrame converts a single sample to a wire frame.
func PointFrame(p traversal.Point) *wire.Frame {
	return &wire.Frame{
		Kind:       wire.KindPoint,
		Channel:    p.Channel,
		Start:      int64(p.Index),
		Timestamps: []int64{p.Timestamp},
		DType:      string(p.Value.DType),
		Shape:      p.Value.Shape,
		Data:       p.Value.Data,
	}
}
