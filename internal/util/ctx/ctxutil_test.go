package ctxutil_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxutil "github.com/wetware/rpcpool/internal/util/ctx"
)

func TestWithSignals(t *testing.T) {
	ctx, cancel := ctxutil.WithSignals(context.Background(), syscall.SIGUSR1)
	defer cancel()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.EqualError(t, context.Cause(ctx), "signal received: user defined signal 1")
	case <-time.After(5 * time.Second):
		t.Fatal("context did not expire")
	}
}

func TestWithSignals_Cancel(t *testing.T) {
	ctx, cancel := ctxutil.WithSignals(context.Background(), syscall.SIGUSR2)
	cancel()

	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}
