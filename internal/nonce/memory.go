package nonce

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is a single-process ledger for development and tests. The map
// holds expiry deadlines; a reaper goroutine prunes stale entries so the map
// does not grow unbounded under sustained traffic.
type MemoryLedger struct {
	entries map[string]int64 // nonce -> expiry (unixnano)
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{
		entries: make(map[string]int64),
		done:    make(chan struct{}),
	}
	go l.reap(time.Minute)
	return l
}

// Claim performs the check-and-set under one lock acquisition; two callers
// racing on the same nonce cannot both win.
func (l *MemoryLedger) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixNano()

	l.mu.Lock()
	defer l.mu.Unlock()

	if exp, ok := l.entries[nonce]; ok && exp > now {
		return false, nil
	}
	l.entries[nonce] = now + ttl.Nanoseconds()
	return true, nil
}

func (l *MemoryLedger) reap(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			l.mu.Lock()
			for nonce, exp := range l.entries {
				if exp <= now {
					delete(l.entries, nonce)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the reaper. Idempotent.
func (l *MemoryLedger) Close() {
	l.once.Do(func() { close(l.done) })
}

var _ Ledger = (*MemoryLedger)(nil)
var _ Ledger = (*RedisLedger)(nil)
