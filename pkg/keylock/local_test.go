package keylock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	locker := NewLocal()
	var inFlight, maxInFlight int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			return WithLock(ctx, locker, "golden-1|source-1", func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInFlight)
	assert.Equal(t, 0, locker.Len())
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	releaseA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := locker.Lock(waitCtx, "b")
	require.NoError(t, err)

	require.NoError(t, releaseB(ctx))
	require.NoError(t, releaseA(ctx))
	assert.Equal(t, 0, locker.Len())
}

func TestLocal_ContextCancelledWhileWaiting(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	release, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locker.Len())

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "second release is a no-op")
	assert.Equal(t, 0, locker.Len())
}
