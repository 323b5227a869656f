// Package client connects to a recording stream and dispatches its frames.
//
// A recording URL has the form replay://host:port/proxy. The first frame
// on a connection is always a hello naming the recording; every later
// frame is a log line, a window of one channel or a single point.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/logging"
	replaysync "github.com/xtxerr/replay/internal/sync"
	"github.com/xtxerr/replay/internal/wire"
)

var log = logging.Component("client")

// =============================================================================
// State Machine
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from ClientState
	to   ClientState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	// From Disconnected
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosed}:     true,

	// From Connecting
	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	// From Connected
	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	// From Closing
	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed      = errors.New("client is closed")
	ErrClientClosing     = errors.New("client is closing")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrBadHandshake      = errors.New("expected hello frame")
	ErrInvalidURL        = errors.New("invalid recording url")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// =============================================================================
// URL
// =============================================================================

// ParseURL extracts host:port from a recording URL. A bare host:port is
// accepted too.
func ParseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if _, _, splitErr := net.SplitHostPort(raw); splitErr == nil {
			return raw, nil
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if u.Scheme != "replay" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Port() == "" {
		return "", fmt.Errorf("%w: missing port in %q", ErrInvalidURL, raw)
	}
	return u.Host, nil
}

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	// URL is the recording URL (replay://host:port/proxy).
	URL string

	// ConnectTimeout bounds dialing and the hello handshake.
	ConnectTimeout time.Duration

	// MaxFrameSize limits a single frame.
	MaxFrameSize int
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout: 10 * time.Second,
		MaxFrameSize:   config.DefaultMaxFrameSize,
	}
}

// Client follows one recording stream.
type Client struct {
	cfg *Config

	// Connection - protected by mu
	mu          sync.Mutex
	conn        net.Conn
	reader      *wire.Reader
	recordingID string

	state     atomic.Int32
	closeOnce replaysync.ResettableOnce
	readDone  chan struct{}

	// Callbacks - protected by cbMu
	cbMu         sync.RWMutex
	onFrame      func(*wire.Frame)
	onDisconnect func(error)

	frames atomic.Uint64
}

// New creates a new client.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = config.DefaultMaxFrameSize
	}
	return &Client{cfg: cfg}
}

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// transitionTo attempts to transition to a new state.
func (c *Client) transitionTo(newState ClientState) error {
	for {
		oldState := c.getState()
		if !validTransitions[stateTransition{from: oldState, to: newState}] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
		}
		if c.state.CompareAndSwap(int32(oldState), int32(newState)) {
			return nil
		}
	}
}

// transitionFrom attempts to transition from a specific state to a new state.
func (c *Client) transitionFrom(from, to ClientState) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// =============================================================================
// Connection Management
// =============================================================================

// Connect dials the recording and waits for its hello frame. Frames are
// dispatched to the OnFrame handler from a background goroutine.
func (c *Client) Connect(ctx context.Context) error {
	switch c.getState() {
	case StateClosed:
		return ErrClientClosed
	case StateClosing:
		return ErrClientClosing
	case StateConnected:
		return ErrAlreadyConnected
	case StateConnecting:
		return fmt.Errorf("connection already in progress")
	}

	addr, err := ParseURL(c.cfg.URL)
	if err != nil {
		return err
	}

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}
	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	reader := wire.NewReaderSize(conn, c.cfg.MaxFrameSize)
	id, err := handshake(ctx, conn, reader)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.reader = reader
	c.recordingID = id
	c.readDone = make(chan struct{})

	if err := c.transitionTo(StateConnected); err != nil {
		conn.Close()
		c.conn = nil
		c.reader = nil
		return err
	}
	success = true

	go c.readLoop(reader, c.readDone)

	log.Debug("connected", "addr", addr, "recording_id", id)
	return nil
}

// handshake reads the hello frame.
func handshake(ctx context.Context, conn net.Conn, r *wire.Reader) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	defer conn.SetReadDeadline(time.Time{})

	f, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if f.Kind != wire.KindHello {
		return "", fmt.Errorf("%w: got %s", ErrBadHandshake, f.Kind)
	}
	return f.RecordingID, nil
}

// Close closes the client connection and waits for the read loop.
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		switch c.getState() {
		case StateClosed, StateClosing:
			return
		case StateDisconnected:
			c.transitionFrom(StateDisconnected, StateClosed)
			return
		case StateConnected:
			c.transitionFrom(StateConnected, StateClosing)
		}

		c.mu.Lock()
		done := c.readDone
		if c.conn != nil {
			closeErr = c.conn.Close()
			c.conn = nil
			c.reader = nil
		}
		c.mu.Unlock()

		if done != nil {
			<-done
		}
		c.transitionFrom(StateClosing, StateClosed)
	})

	return closeErr
}

// Reconnect drops the current connection and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.getState() == StateClosed {
		return ErrClientClosed
	}

	c.mu.Lock()
	done := c.readDone
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	c.state.Store(int32(StateDisconnected))
	c.closeOnce.Reset()

	return c.Connect(ctx)
}

// =============================================================================
// State Queries
// =============================================================================

// RecordingID returns the ID announced by the hello frame.
func (c *Client) RecordingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordingID
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// IsClosed returns true if permanently closed.
func (c *Client) IsClosed() bool {
	return c.getState() == StateClosed
}

// State returns the current state as a string.
func (c *Client) State() string {
	return c.getState().String()
}

// Frames returns the number of frames received after the hello.
func (c *Client) Frames() uint64 {
	return c.frames.Load()
}

// Done is closed when the read loop of the current connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDone
}

// =============================================================================
// Callbacks
// =============================================================================

// OnFrame sets the handler for received frames.
func (c *Client) OnFrame(fn func(*wire.Frame)) {
	c.cbMu.Lock()
	c.onFrame = fn
	c.cbMu.Unlock()
}

// OnDisconnect sets the handler for an unexpected disconnect. It is not
// called after Close.
func (c *Client) OnDisconnect(fn func(error)) {
	c.cbMu.Lock()
	c.onDisconnect = fn
	c.cbMu.Unlock()
}

// =============================================================================
// Read Loop
// =============================================================================

func (c *Client) readLoop(r *wire.Reader, done chan struct{}) {
	var disconnectErr error

	defer func() {
		close(done)

		c.cbMu.RLock()
		fn := c.onDisconnect
		c.cbMu.RUnlock()
		if fn != nil && disconnectErr != nil {
			fn(disconnectErr)
		}
	}()

	for {
		f, err := r.Read()
		if err != nil {
			if c.getState() != StateConnected {
				return
			}
			disconnectErr = err
			c.transitionFrom(StateConnected, StateDisconnected)
			return
		}

		c.frames.Add(1)

		c.cbMu.RLock()
		fn := c.onFrame
		c.cbMu.RUnlock()
		if fn != nil {
			fn(f)
		}
	}
}
