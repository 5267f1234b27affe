package limiter

import (
	"context"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// Concurrent bounds the number of calls that run at once.
type Concurrent struct {
	sem    *semaphore.Weighted
	max    int
	active atomic.Int64
	life   lifetime
}

// NewConcurrent returns a limiter that runs at most max calls at once.
// Values of max below one are treated as one.
func NewConcurrent(max int) *Concurrent {
	if max < 1 {
		max = 1
	}

	return &Concurrent{
		sem:  semaphore.NewWeighted(int64(max)),
		max:  max,
		life: newLifetime(),
	}
}

// Max number of concurrent calls.
func (c *Concurrent) Max() int { return c.max }

// Active returns the number of calls currently running.
func (c *Concurrent) Active() int {
	return int(c.active.Load())
}

// Execute waits for a free slot and calls f while holding it.  If ctx
// expires, or the limiter is destroyed, before a slot frees up, f is never
// called.  Once f is running the slot is held until f returns, whatever
// happens to ctx.
func (c *Concurrent) Execute(ctx context.Context, f func() error) error {
	if c.life.destroyed() {
		return ErrDestroyed
	}

	wait, cancel := c.life.bind(ctx)
	err := c.sem.Acquire(wait, 1)
	if err != nil {
		err = context.Cause(wait)
	}
	cancel()

	if err != nil {
		return err
	}

	c.active.Inc()
	defer func() {
		c.active.Dec()
		c.sem.Release(1)
	}()

	return f()
}

// Destroy the limiter.  Pending waiters fail with ErrDestroyed; running
// calls are unaffected.  Destroying a limiter twice returns ErrDestroyed.
func (c *Concurrent) Destroy() error {
	return c.life.destroy()
}
