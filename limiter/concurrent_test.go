package limiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/wetware/rpcpool/limiter"
)

func TestConcurrent(t *testing.T) {
	t.Parallel()

	t.Run("Bounded", func(t *testing.T) {
		t.Parallel()

		const max = 3
		c := limiter.NewConcurrent(max)
		defer c.Destroy()

		var running, peak atomic.Int32

		var g errgroup.Group
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				return c.Execute(context.Background(), func() error {
					n := running.Inc()
					defer running.Dec()

					if n > max {
						return errors.New("too many concurrent holders")
					}

					for p := peak.Load(); n > p; p = peak.Load() {
						if peak.CompareAndSwap(p, n) {
							break
						}
					}

					time.Sleep(5 * time.Millisecond)
					return nil
				})
			})
		}

		require.NoError(t, g.Wait())
		assert.Equal(t, int32(max), peak.Load())
		assert.Zero(t, c.Active())
	})

	t.Run("ErrorReleasesSlot", func(t *testing.T) {
		t.Parallel()

		c := limiter.NewConcurrent(1)
		defer c.Destroy()

		boom := errors.New("boom")
		require.ErrorIs(t, c.Execute(context.Background(), func() error { return boom }), boom)
		require.NoError(t, c.Execute(context.Background(), func() error { return nil }))
	})

	t.Run("PanicReleasesSlot", func(t *testing.T) {
		t.Parallel()

		c := limiter.NewConcurrent(1)
		defer c.Destroy()

		assert.Panics(t, func() {
			c.Execute(context.Background(), func() error { panic("boom") })
		})
		require.NoError(t, c.Execute(context.Background(), func() error { return nil }))
	})

	t.Run("AbortWhileWaiting", func(t *testing.T) {
		t.Parallel()

		c := limiter.NewConcurrent(1)
		defer c.Destroy()

		release := make(chan struct{})
		go c.Execute(context.Background(), func() error {
			<-release
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		var called bool
		err := c.Execute(ctx, func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, called, "aborted work should never run")

		close(release)
		require.NoError(t, c.Execute(context.Background(), func() error { return nil }),
			"aborted waiter should not hold a slot")
	})

	t.Run("Destroy", func(t *testing.T) {
		t.Parallel()

		c := limiter.NewConcurrent(1)

		release := make(chan struct{})
		running := make(chan error, 1)
		go func() {
			running <- c.Execute(context.Background(), func() error {
				<-release
				return nil
			})
		}()
		time.Sleep(10 * time.Millisecond)

		queued := make(chan error, 1)
		go func() {
			queued <- c.Execute(context.Background(), func() error { return nil })
		}()
		time.Sleep(10 * time.Millisecond)

		require.NoError(t, c.Destroy())
		require.ErrorIs(t, <-queued, limiter.ErrDestroyed,
			"queued work should be rejected")

		close(release)
		require.NoError(t, <-running, "running work should be unaffected")

		require.ErrorIs(t, c.Execute(context.Background(), func() error { return nil }),
			limiter.ErrDestroyed)
		require.ErrorIs(t, c.Destroy(), limiter.ErrDestroyed)
	})
}
