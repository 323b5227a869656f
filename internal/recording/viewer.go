package recording

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// viewer is one connected stream consumer.
//
// Frames are queued on sendCh and written by a dedicated goroutine. A viewer
// whose queue is full is disconnected rather than allowed to stall the
// producer.
//
// viewer is safe for concurrent use.
type viewer struct {
	// Immutable fields (no lock needed)
	id          uint64
	remote      string
	connectedAt time.Time
	conn        net.Conn

	// Send channel - protected by sendMu
	sendMu sync.RWMutex
	sendCh chan []byte

	// State management
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	onClose func(v *viewer)
}

func newViewer(id uint64, conn net.Conn, bufferSize int, onClose func(v *viewer)) *viewer {
	return &viewer{
		id:          id,
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		conn:        conn,
		sendCh:      make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		onClose:     onClose,
	}
}

// run starts the writer and reader goroutines. The reader only detects
// disconnects; viewers never send anything meaningful.
func (v *viewer) run() {
	go func() {
		defer close(v.done)
		for data := range v.sendChan() {
			if _, err := v.conn.Write(data); err != nil {
				log.Debug("write failed, closing viewer",
					"viewer", v.id,
					"error", err)
				v.conn.Close()
				go v.close()
				return
			}
		}
	}()

	go func() {
		io.Copy(io.Discard, v.conn)
		v.close()
	}()
}

// send queues data without blocking. It returns false and disconnects the
// viewer if its queue is full.
func (v *viewer) send(data []byte) bool {
	if v.closed.Load() {
		return false
	}

	v.sendMu.RLock()
	defer v.sendMu.RUnlock()

	if v.sendCh == nil {
		return false
	}

	select {
	case v.sendCh <- data:
		return true
	default:
		log.Warn("viewer send buffer full, disconnecting",
			"viewer", v.id,
			"remote", v.remote,
			"buffer", cap(v.sendCh))
		go v.close()
		return false
	}
}

func (v *viewer) sendChan() <-chan []byte {
	v.sendMu.RLock()
	defer v.sendMu.RUnlock()
	return v.sendCh
}

// close disconnects the viewer. Queued frames are flushed first unless the
// connection is already broken. It is idempotent.
func (v *viewer) close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)

		v.sendMu.Lock()
		if v.sendCh != nil {
			close(v.sendCh)
			v.sendCh = nil
		}
		v.sendMu.Unlock()

		// Give the writer a moment to drain before cutting the connection.
		select {
		case <-v.done:
		case <-time.After(time.Second):
		}
		v.conn.Close()

		if v.onClose != nil {
			v.onClose(v)
		}

		log.Debug("viewer disconnected", "viewer", v.id, "remote", v.remote)
	})
}
