package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/lthibault/log"
	"github.com/stretchr/testify/require"

	"github.com/wetware/rpcpool/capability"
	"github.com/wetware/rpcpool/client"
	"github.com/wetware/rpcpool/rpc"
	"github.com/wetware/rpcpool/transport"
	"github.com/wetware/rpcpool/util/proto"
)

// env is a client host and a server host, linked by a mock network.  The
// server answers the default sub-protocol and "other".
type env struct {
	mn     mocknet.Mocknet
	client host.Host
	server host.Host
	srv    *rpc.Server
	tr     *transport.Host
}

func newEnv(t *testing.T, services ...*rpc.Service) *env {
	t.Helper()

	mn := mocknet.New()
	t.Cleanup(func() { mn.Close() })

	ch, err := mn.GenPeer()
	require.NoError(t, err)
	sh, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	if len(services) == 0 {
		services = []*rpc.Service{echo("", nil)}
	}

	srv := &rpc.Server{Log: log.New(log.WithLevel(log.ErrorLevel))}
	for _, svc := range services {
		require.NoError(t, srv.Register(svc))
	}

	release := srv.Bind(sh, proto.Default, "other")
	t.Cleanup(func() {
		release()
		srv.Close()
	})

	tr := transport.New(ch)
	t.Cleanup(func() { tr.Close() })

	return &env{mn: mn, client: ch, server: sh, srv: srv, tr: tr}
}

func (e *env) key() client.Key {
	return client.Key{Peer: e.server.ID(), Protocol: proto.Default}
}

// echo service with methods:
//
//	echo  returns its argument
//	slow  returns its argument after 500ms
//	hang  blocks until the channel closes
func echo(protocol string, id []byte) *rpc.Service {
	svc := &rpc.Service{Protocol: protocol, ID: id}

	svc.Respond("echo", rpc.Method{
		Handler: func(_ context.Context, req any) (any, error) {
			return req, nil
		},
	})

	svc.Respond("slow", rpc.Method{
		Handler: func(ctx context.Context, req any) (any, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return req, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	svc.Respond("hang", rpc.Method{
		Handler: func(ctx context.Context, _ any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	return svc
}

func withCapability(svc *rpc.Service, cap capability.Capability) *rpc.Service {
	cap.Bind(svc)
	return svc
}

// quiet returns options that keep test output and retry delays short.
func quiet(opt ...client.Option) []client.Option {
	return append([]client.Option{
		client.WithLogger(log.New(log.WithLevel(log.ErrorLevel))),
		client.WithBackoff(10*time.Millisecond, 20*time.Millisecond),
	}, opt...)
}
