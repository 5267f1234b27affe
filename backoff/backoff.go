// Package backoff produces jittered retry delays from a fixed table of steps.
package backoff

import (
	"context"
	"sync"
	"time"

	jitter "github.com/jpillora/backoff"
)

// DefaultSteps are used when New is called without arguments.
var DefaultSteps = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
}

// Jitter is the maximum fraction of a step that is added at random.
const Jitter = .5

// Backoff walks a table of delays, staying on the last step once it is
// reached.  A Backoff supports one pending Wait at a time.
type Backoff struct {
	steps []time.Duration

	mu      sync.Mutex
	attempt int
	cancel  chan struct{}
}

// New backoff.  If no steps are supplied, DefaultSteps is used.
func New(steps ...time.Duration) *Backoff {
	if len(steps) == 0 {
		steps = DefaultSteps
	}

	return &Backoff{
		steps: append([]time.Duration(nil), steps...),
	}
}

// Attempts returns the number of delays produced since the last reset,
// capped at the length of the step table.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempt
}

// Next returns the next delay and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.next()
}

func (b *Backoff) next() time.Duration {
	base := b.steps[len(b.steps)-1]
	if b.attempt < len(b.steps) {
		base = b.steps[b.attempt]
		b.attempt++
	}

	if base <= 0 {
		return 0
	}

	// One jittered attempt between base and base*(1+Jitter).
	j := jitter.Backoff{
		Min:    base,
		Max:    base + time.Duration(Jitter*float64(base)),
		Factor: 1 + Jitter,
		Jitter: true,
	}

	return j.ForAttempt(1)
}

// Reset the attempt counter to the first step.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempt = 0
}

// Wait for the next delay.  Wait returns nil when the delay elapses or
// when Cancel is called, and the context's cause if ctx expires first.
func (b *Backoff) Wait(ctx context.Context) error {
	b.mu.Lock()
	d := b.next()
	cancel := make(chan struct{})
	b.cancel = cancel
	b.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	defer func() {
		b.mu.Lock()
		if b.cancel == cancel {
			b.cancel = nil
		}
		b.mu.Unlock()
	}()

	select {
	case <-timer.C:
		return nil
	case <-cancel:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Cancel the pending Wait, if any.  It is a nop when nothing is waiting.
func (b *Backoff) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		close(b.cancel)
		b.cancel = nil
	}
}
