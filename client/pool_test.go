package client_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/host/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wetware/rpcpool/client"
	"github.com/wetware/rpcpool/identity"
)

func TestPool_Request(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet()...)
	defer pool.Close()

	for _, id := range []any{
		env.server.ID(),
		env.server.ID().String(),
		env.server.Peerstore().PubKey(env.server.ID()),
	} {
		res, err := pool.Request(context.Background(), id, "echo", []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), res)
	}

	assert.Equal(t, 1, pool.Len(), "equivalent identities should share a connection")

	stats := pool.Stats().Snapshot()
	assert.Equal(t, int64(1), stats.ConnectionsOpened)
	assert.Equal(t, int64(3), stats.RequestsSucceeded)
}

func TestPool_InvalidIdentity(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet()...)
	defer pool.Close()

	_, err := pool.Request(context.Background(), 42, "echo", nil)
	require.ErrorIs(t, err, identity.ErrInvalid)
	assert.Zero(t, pool.Len())
}

func TestPool_Keys(t *testing.T) {
	t.Parallel()

	id := []byte("tenant")
	env := newEnv(t, echo("", nil), echo("other", nil), echo("", id))
	pool := client.New(env.tr, quiet()...)
	defer pool.Close()

	for _, opt := range [][]client.CallOption{
		nil,
		{client.CallProtocol("other")},
		{client.CallID(id)},
		{client.CallProtocol("rpc")}, // explicit default
	} {
		_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil, opt...)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, pool.Len(), "default protocol should be normalized")
}

func TestPool_GC(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	bus := eventbus.NewBus()

	sub, err := bus.Subscribe(new(client.EvtGC))
	require.NoError(t, err)
	defer sub.Close()

	pool := client.New(env.tr, quiet(
		client.WithEventBus(bus),
		client.WithGCInterval(50*time.Millisecond))...)
	defer pool.Close()

	_, err = pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())

	select {
	case v := <-sub.Out():
		ev := v.(client.EvtGC)
		require.Len(t, ev.Evicted, 1)
		assert.Equal(t, env.key(), ev.Evicted[0])
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not collected")
	}

	assert.Zero(t, pool.Len())

	// The pool dials again on demand.
	_, err = pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pool.Stats().Snapshot().ConnectionsOpened)
}

func TestPool_SweepSkipsBusy(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet(client.WithGCInterval(time.Hour))...)
	defer pool.Close()

	_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil,
		client.CallProtocol("other"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Request(context.Background(), env.server.ID(), "hang", nil,
			client.CallTimeout(time.Second))
	}()

	require.Eventually(t, func() bool {
		return pool.Stats().Snapshot().RequestsSent == 2
	}, 5*time.Second, 10*time.Millisecond)

	evicted := pool.Sweep(time.Now().Add(2 * time.Hour))
	require.Len(t, evicted, 1, "only the idle connection should be evicted")
	assert.Equal(t, "other", evicted[0].Protocol)
	assert.Equal(t, 1, pool.Len())

	assert.Empty(t, pool.Sweep(time.Now()), "recently used connection should stay")

	<-done
}

func TestPool_SuspendResume(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet()...)
	defer pool.Close()

	_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.NoError(t, err)

	require.NoError(t, pool.Suspend())

	var g errgroup.Group
	for _, opt := range []client.CallOption{
		client.CallProtocol(""),      // existing connection
		client.CallProtocol("other"), // created while suspended
	} {
		g.Go(func() error {
			_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil, opt)
			return err
		})
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), pool.Stats().Snapshot().ConnectionsOpened,
		"suspended pool should not dial")

	require.NoError(t, pool.Resume())
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(2), pool.Stats().Snapshot().ConnectionsOpened)
}

func TestPool_StartSuspended(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet(client.WithSuspended(true))...)
	defer pool.Close()

	_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil,
		client.CallTimeout(100*time.Millisecond))
	require.ErrorIs(t, err, client.ErrRequestTimeout)

	require.NoError(t, pool.Resume())

	_, err = pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.NoError(t, err)
}

func TestPool_Close(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet()...)

	_, err := pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := pool.Request(context.Background(), env.server.ID(), "hang", nil)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return pool.Stats().Snapshot().RequestsSent == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Close())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, client.ErrClientClosing)
	case <-time.After(5 * time.Second):
		t.Fatal("pending request was not rejected")
	}

	assert.Zero(t, pool.Len())

	_, err = pool.Request(context.Background(), env.server.ID(), "echo", nil)
	require.ErrorIs(t, err, client.ErrClientClosing)
	require.ErrorIs(t, pool.Suspend(), client.ErrClientClosing)
	require.NoError(t, pool.Close(), "close should be idempotent")
}

func TestPool_Unreachable(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pool := client.New(env.tr, quiet()...)
	defer pool.Close()

	_, pk, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	stranger, err := peer.IDFromPublicKey(pk)
	require.NoError(t, err)

	_, err = pool.Request(context.Background(), stranger, "echo", nil,
		client.CallTimeout(200*time.Millisecond))
	require.ErrorIs(t, err, client.ErrRequestTimeout)
	assert.Greater(t, pool.Stats().Snapshot().ConnectionAttempts, int64(1),
		"should retry with backoff")
}
