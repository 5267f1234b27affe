// Package ctxutil binds contexts to process signals.
package ctxutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
)

// WithLifetime returns a context that expires when the process receives
// SIGINT or SIGTERM.
func WithLifetime(ctx context.Context) (context.Context, context.CancelFunc) {
	return WithSignals(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// WithSignals returns a context that expires when the process receives any
// of the specified signals.  The context's cause names the signal.
func WithSignals(ctx context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, sigs...)

	go func() {
		defer signal.Stop(sigch)

		select {
		case sig := <-sigch:
			cancel(errors.Errorf("signal received: %s", sig))
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}
