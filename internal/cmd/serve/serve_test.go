package serve_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wetware/rpcpool/internal/cmd/serve"
	"github.com/wetware/rpcpool/rpc"
)

func TestServices(t *testing.T) {
	t.Parallel()

	services, err := serve.Services([]string{"", "other"}, []string{"cafe"})
	require.NoError(t, err)
	require.Len(t, services, 4)

	assert.Equal(t, "rpc", services[0].String())
	assert.Equal(t, "rpc#cafe", services[1].String())
	assert.Equal(t, "other", services[2].String())
	assert.Equal(t, "other#cafe", services[3].String())

	_, err = serve.Services(nil, []string{"not hex"})
	assert.Error(t, err)
}

func TestEcho(t *testing.T) {
	t.Parallel()

	svc := serve.Echo("", []byte{1, 2})
	assert.ElementsMatch(t, []string{"echo", "id", "sleep", "time"}, svc.Methods())
}

func TestEcho_Pipe(t *testing.T) {
	t.Parallel()

	srv := &rpc.Server{}
	require.NoError(t, srv.Register(serve.Echo("", []byte("svc"))))
	defer srv.Close()

	left, right := net.Pipe()
	go srv.Serve(right)

	ch := rpc.NewChannel(left, rpc.Options{ID: []byte("svc")})
	defer ch.Destroy(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	strings := rpc.RequestOptions{RequestEncoding: rpc.String, ResponseEncoding: rpc.String}

	res, err := ch.Request(ctx, "sleep", "10ms", strings)
	require.NoError(t, err)
	assert.Equal(t, "10ms", res)

	_, err = ch.Request(ctx, "sleep", "whenever", strings)
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "sleep", remote.Method)

	res, err = ch.Request(ctx, "id", nil, rpc.RequestOptions{RequestEncoding: rpc.None})
	require.NoError(t, err)
	assert.Equal(t, []byte("svc"), res)

	res, err = ch.Request(ctx, "time", nil, rpc.RequestOptions{
		RequestEncoding:  rpc.None,
		ResponseEncoding: rpc.String,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}
