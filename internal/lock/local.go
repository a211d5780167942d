package lock

import (
	"context"
	"sync"
	"time"
)

// Local implements Locker inside a single process.
type Local struct {
	mu      sync.Mutex
	slots   map[string]chan struct{}
	timeout time.Duration
}

// NewLocal returns an in-process Locker. Acquisition gives up after timeout.
func NewLocal(timeout time.Duration) *Local {
	return &Local{slots: make(map[string]chan struct{}), timeout: timeout}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// WithLock runs fn while holding key.
func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.slot(key)
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ErrNotAcquired
	}
	defer func() { <-ch }()

	return fn(ctx)
}
