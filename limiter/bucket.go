package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a token-bucket rate limiter.  It admits up to capacity calls at
// once, then refills at tokensPerInterval per interval.  Idle time never
// accumulates more than capacity tokens.
//
// Tokens are only ever taken by a caller that is admitted, so a caller
// that gives up while waiting never consumes one.  Wake order among
// waiters is not guaranteed.
type Bucket struct {
	lim  *rate.Limiter
	life lifetime

	mu    sync.Mutex
	wake  chan struct{}
	timer *time.Timer
}

// NewBucket returns a rate limiter that holds at most capacity tokens and
// regains tokensPerInterval tokens every interval.
func NewBucket(capacity, tokensPerInterval int, interval time.Duration) *Bucket {
	if capacity < 1 {
		capacity = 1
	}

	return &Bucket{
		lim:  rate.NewLimiter(rate.Limit(float64(tokensPerInterval)/interval.Seconds()), capacity),
		life: newLifetime(),
		wake: make(chan struct{}),
	}
}

// Tokens currently available.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lim.Tokens()
}

// Wait blocks until a token is available.  It returns the cause of ctx if
// ctx expires first, and ErrDestroyed if the bucket is destroyed.
func (b *Bucket) Wait(ctx context.Context) error {
	ctx, cancel := b.life.bind(ctx)
	defer cancel()

	for {
		if b.life.destroyed() {
			return ErrDestroyed
		}

		wake, ok := b.take()
		if ok {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Execute waits for a token, then calls f.
func (b *Bucket) Execute(ctx context.Context, f func() error) error {
	if err := b.Wait(ctx); err != nil {
		return err
	}

	return f()
}

// Destroy the bucket.  Pending waiters fail with ErrDestroyed.  Destroying
// a bucket twice returns ErrDestroyed.
func (b *Bucket) Destroy() error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	return b.life.destroy()
}

// take a token if one is available.  Otherwise it arms the refill timer
// and returns the channel that is closed when the next token exists.
func (b *Bucket) take() (<-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lim.Allow() {
		return nil, true
	}

	if b.timer == nil && b.lim.Limit() > 0 && !b.life.destroyed() {
		b.timer = time.AfterFunc(b.refillDelay(), b.refill)
	}

	return b.wake, false
}

// refillDelay until the next whole token.  Callers must hold mu.
func (b *Bucket) refillDelay() time.Duration {
	missing := 1 - b.lim.Tokens()
	if missing <= 0 {
		return 0
	}

	return time.Duration(math.Ceil(missing / float64(b.lim.Limit()) * float64(time.Second)))
}

// refill wakes every waiter so that they race for the new token.
func (b *Bucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timer = nil
	close(b.wake)
	b.wake = make(chan struct{})
}
