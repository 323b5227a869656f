package server

import (
	"sync"
	"time"
)

// =============================================================================
// Unknown Episode Throttling
// =============================================================================

// lookupLimiter throttles clients that walk through episode IDs.
//
// For each client IP it remembers the distinct episode IDs whose lookup
// failed, stamped with the latest failure. Retrying one unknown episode
// counts once, so a viewer polling for an episode that is not registered
// yet is never blocked. A client is blocked while at least limit IDs have
// failed within the last window. Each failure expires on its own.
type lookupLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]map[int64]time.Time
	lastSweep time.Time
}

// newLookupLimiter creates a limiter. A limit <= 0 disables it. now
// defaults to time.Now.
func newLookupLimiter(limit int, window time.Duration, now func() time.Time) *lookupLimiter {
	if now == nil {
		now = time.Now
	}
	return &lookupLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		clients: make(map[string]map[int64]time.Time),
	}
}

// Blocked reports whether ip has too many recent failed lookups.
func (l *lookupLimiter) Blocked(ip string) bool {
	if l.limit <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked(ip, l.now()) >= l.limit
}

// Fail records that ip looked up an unknown episode.
func (l *lookupLimiter) Fail(ip string, episodeID int64) {
	if l.limit <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	failed, ok := l.clients[ip]
	if !ok {
		failed = make(map[int64]time.Time)
		l.clients[ip] = failed
	}
	failed[episodeID] = now
}

// Resolved forgets a failed lookup of episodeID by ip, for example once the
// episode has been registered.
func (l *lookupLimiter) Resolved(ip string, episodeID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	failed, ok := l.clients[ip]
	if !ok {
		return
	}
	delete(failed, episodeID)
	if len(failed) == 0 {
		delete(l.clients, ip)
	}
}

// Failures returns the number of distinct episodes ip failed to look up
// within the window.
func (l *lookupLimiter) Failures(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked(ip, l.now())
}

// countLocked drops the expired failures of ip and counts the rest.
func (l *lookupLimiter) countLocked(ip string, now time.Time) int {
	failed, ok := l.clients[ip]
	if !ok {
		return 0
	}
	for id, at := range failed {
		if now.Sub(at) >= l.window {
			delete(failed, id)
		}
	}
	if len(failed) == 0 {
		delete(l.clients, ip)
	}
	return len(failed)
}

// sweepLocked expires idle clients, at most once per window.
func (l *lookupLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for ip := range l.clients {
		l.countLocked(ip, now)
	}
}

// tracked returns the number of tracked client IPs.
func (l *lookupLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
