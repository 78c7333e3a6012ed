// Package lock provides per-aggregate mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the context ends before the lock is obtained.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker serializes work on one key. Callers must call the returned unlock exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func CartKey(userID string) string {
	return "cart:" + userID
}

func OrderKey(orderID string) string {
	return "order:" + orderID
}
