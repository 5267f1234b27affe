package capability_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wetware/rpcpool/capability"
)

const testProto = "/capability/test"

func TestCapability(t *testing.T) {
	t.Parallel()

	outbound, inbound := streamPair(t)

	ns := []byte("namespace")
	secret := bytes.Repeat([]byte{7}, 32)
	c := capability.Capability{Namespace: ns, Secret: secret}

	proof := c.Generate(outbound)
	require.Len(t, proof, 32)

	t.Run("Valid", func(t *testing.T) {
		assert.True(t, c.Verify(inbound, proof))
		assert.True(t, c.Verify(outbound, c.Generate(inbound)),
			"responder proof should verify on the initiator")
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := capability.Capability{Namespace: ns, Secret: bytes.Repeat([]byte{8}, 32)}
		assert.False(t, other.Verify(inbound, proof))
	})

	t.Run("WrongNamespace", func(t *testing.T) {
		other := capability.Capability{Namespace: []byte("other"), Secret: secret}
		assert.False(t, other.Verify(inbound, proof))
	})

	t.Run("Reflected", func(t *testing.T) {
		assert.False(t, c.Verify(outbound, proof),
			"a side should not accept its own proof")
	})

	t.Run("LongSecret", func(t *testing.T) {
		long := capability.Capability{Namespace: ns, Secret: bytes.Repeat([]byte{1}, 100)}
		assert.True(t, long.Verify(inbound, long.Generate(outbound)))
	})

	t.Run("Handshake", func(t *testing.T) {
		payload, err := c.Handshake(outbound)
		require.NoError(t, err)
		require.NoError(t, c.Check(inbound, payload))

		require.ErrorIs(t, c.Check(inbound, nil), capability.ErrInvalidCapability)
		require.ErrorIs(t, c.Check(inbound, []byte{0xff}), capability.ErrInvalidCapability)
	})

	t.Run("PlainConn", func(t *testing.T) {
		left, right := net.Pipe()
		defer left.Close()
		defer right.Close()

		_, err := c.Handshake(left)
		require.Error(t, err)
		require.ErrorIs(t, c.Check(right, nil), capability.ErrInvalidCapability)
	})
}

func TestEncoding(t *testing.T) {
	t.Parallel()

	payload, err := capability.Encode([]byte("proof"))
	require.NoError(t, err)

	proof, err := capability.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("proof"), proof)

	proof, err = capability.Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, proof)
}

func streamPair(t *testing.T) (outbound, inbound network.Stream) {
	t.Helper()

	mn := mocknet.New()
	t.Cleanup(func() { mn.Close() })

	a, err := mn.GenPeer()
	require.NoError(t, err)
	b, err := mn.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	accepted := make(chan network.Stream, 1)
	b.SetStreamHandler(testProto, func(s network.Stream) {
		accepted <- s
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outbound, err = a.NewStream(ctx, b.ID(), testProto)
	require.NoError(t, err)
	t.Cleanup(func() { outbound.Reset() })

	// the handler fires once the protocol header is read
	_, err = outbound.Write([]byte{0})
	require.NoError(t, err)

	select {
	case inbound = <-accepted:
		t.Cleanup(func() { inbound.Reset() })
	case <-ctx.Done():
		t.Fatal("no inbound stream")
	}

	return outbound, inbound
}
