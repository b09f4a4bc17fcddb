// Package keylock serializes work per key, e.g. per (golden, source) link.
package keylock

import (
	"context"
	"errors"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired before the wait expires
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

// Release gives a lock back. It is safe to call once.
type Release func(ctx context.Context) error

type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, locker Locker, key string, fn func(ctx context.Context) error) error {
	release, err := locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))

	return fn(ctx)
}
