package client

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/pkg/errors"

	"github.com/wetware/rpcpool/capability"
	"github.com/wetware/rpcpool/rpc"
	"github.com/wetware/rpcpool/transport"
	"github.com/wetware/rpcpool/util/proto"
)

// open a stream to the remote service and wait for its channel to open.
func (c *Conn) open(ctx context.Context, first bool) (*rpc.Channel, error) {
	s, err := c.t.Dial(ctx, c.key.Peer, transport.DialOptions{
		// Offer every compatible version of the sub-protocol.
		Protocols:    proto.Namespace(c.key.Protocol),
		KeyPair:      c.config.keyPair,
		RelayThrough: c.config.relayThrough,
	})
	if err != nil {
		return nil, err
	}

	hs, err := c.handshake(s)
	if err != nil {
		s.Reset()
		return nil, errors.Wrap(err, "handshake")
	}

	ch := rpc.NewChannel(s, rpc.Options{
		ID:        []byte(c.key.ID),
		Protocol:  c.key.Protocol,
		Handshake: hs,
		Log:       c.log,
	})

	if !c.track(ctx, ch, first) {
		ch.Destroy(nil)
		return nil, ErrClientClosing
	}

	c.streams.Emit(EvtStream{Key: c.key, Stream: s})

	if _, err = ch.WaitOpen(ctx); err != nil {
		ch.Destroy(err)
		c.untrack(ch)
		return nil, errors.Wrap(err, "open")
	}

	return ch, nil
}

func (c *Conn) handshake(s network.Stream) ([]byte, error) {
	if c.config.capability == nil {
		return nil, nil
	}

	return capability.Encode(c.config.capability.Generate(s))
}
