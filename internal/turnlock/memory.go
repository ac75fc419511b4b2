package turnlock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker keeps lock state in process memory. Suitable for a single
// instance; use the redis driver when running more than one.
type MemoryLocker struct {
	mu    sync.Mutex
	ttl   time.Duration
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewMemoryLocker creates an in-process locker. A ttl of zero uses DefaultTTL.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{
		ttl:   ttl,
		held:  make(map[string]time.Time),
		nowFn: time.Now,
	}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, conversationID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if expiry, ok := l.held[conversationID]; ok && now.Before(expiry) {
		return nil, ErrTurnInFlight
	}
	l.held[conversationID] = now.Add(l.ttl)

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, conversationID)
			l.mu.Unlock()
		})
	}
	return release, nil
}

// Close implements Locker.
func (l *MemoryLocker) Close() error {
	l.mu.Lock()
	l.held = make(map[string]time.Time)
	l.mu.Unlock()
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
