// Package sync provides synchronization primitives missing from the
// standard library.
package sync

import (
	"sync"
	"sync/atomic"
)

// ResettableOnce is a sync.Once that can be re-armed. The viewer client
// uses it to close a connection exactly once per connect cycle.
//
// ResettableOnce is safe for concurrent use.
type ResettableOnce struct {
	done atomic.Bool
	m    sync.Mutex
}

// Do calls f if Do has not completed since the last Reset. Concurrent
// callers block until f returns.
func (o *ResettableOnce) Do(f func()) {
	if o.done.Load() {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()

	if !o.done.Load() {
		defer o.done.Store(true)
		f()
	}
}

// DoWithError is like Do, but the Once stays armed when f fails.
func (o *ResettableOnce) DoWithError(f func() error) error {
	if o.done.Load() {
		return nil
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.done.Load() {
		return nil
	}
	if err := f(); err != nil {
		return err
	}
	o.done.Store(true)
	return nil
}

// Reset re-arms the Once. It waits for a Do in progress.
func (o *ResettableOnce) Reset() {
	o.m.Lock()
	defer o.m.Unlock()
	o.done.Store(false)
}

// Done reports whether Do completed since the last Reset.
func (o *ResettableOnce) Done() bool {
	return o.done.Load()
}
