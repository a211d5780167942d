// Package lock serializes writes to per-service state across API replicas.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lease could not be obtained within the retry budget.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker runs fn while holding an exclusive lease on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ServiceKey is the lease key guarding a service's status hint.
func ServiceKey(serviceID string) string {
	return "service:" + serviceID
}
