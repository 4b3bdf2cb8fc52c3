package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with a sliding failure window and a
// temporary lockout. Limiter state is deliberately ephemeral: a restart
// forgives outstanding blocks.
type Memory struct {
	window   time.Duration
	maxFails int
	blockFor time.Duration

	now func() time.Time

	mu      sync.Mutex
	entries map[memKey]*memEntry
}

type memKey struct {
	username string
	ipHash   string
}

type memEntry struct {
	fails        int
	firstFail    time.Time
	blockedUntil time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		entries:  make(map[memKey]*memEntry),
	}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[memKey{username, string(ipHash)}]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters after a successful login.
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey{username, string(ipHash)})
	return nil
}

// Failure records a failed attempt and blocks once the window threshold is
// reached.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	key := memKey{username, string(ipHash)}
	e, ok := l.entries[key]
	if !ok || now.Sub(e.firstFail) > l.window {
		e = &memEntry{firstFail: now}
		l.entries[key] = e
	}
	e.fails++
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
