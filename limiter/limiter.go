// Package limiter provides the two admission gates that sit in front of
// every remote request: a token-bucket rate limiter and a bounded
// concurrency limiter.
//
// Both limiters can be destroyed.  Destruction wakes every waiter with
// ErrDestroyed, and all later calls fail the same way.
package limiter

import (
	"context"

	"github.com/pkg/errors"
)

// ErrDestroyed is returned by a limiter that was destroyed while, or
// before, the caller waited on it.
var ErrDestroyed = errors.New("limiter destroyed")

// lifetime is shared by both limiters.  Its context is canceled with
// ErrDestroyed when the limiter is destroyed.
type lifetime struct {
	ctx  context.Context
	kill context.CancelCauseFunc
}

func newLifetime() lifetime {
	ctx, kill := context.WithCancelCause(context.Background())
	return lifetime{ctx: ctx, kill: kill}
}

func (l lifetime) destroyed() bool {
	return l.ctx.Err() != nil
}

func (l lifetime) destroy() error {
	if l.destroyed() {
		return ErrDestroyed
	}

	l.kill(ErrDestroyed)
	return nil
}

// bind returns a context that expires with ErrDestroyed when the limiter is
// destroyed, or with the cause of ctx when ctx expires.
func (l lifetime) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(l.ctx, func() {
		cancel(ErrDestroyed)
	})

	return ctx, func() {
		stop()
		cancel(nil)
	}
}
