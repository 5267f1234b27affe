//go:generate mockgen -source=transport.go -destination=../internal/mock/pkg/transport/transport.go -package=mock_transport

// Package transport opens streams to remote peers addressed by public key.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	quic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/lthibault/log"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
)

// ErrDestroyed is returned by Dial after the transport has been closed.
var ErrDestroyed = errors.New("transport destroyed")

// RelayFunc selects a relay peer for a dial.  Returning the empty ID dials
// the remote peer directly.
type RelayFunc func() peer.ID

// DialOptions for a single stream.
type DialOptions struct {
	// Protocols offered to the remote peer, most preferred first.
	Protocols []protocol.ID

	// KeyPair identifies the local end of the stream.  If nil, the
	// transport's default identity is used.
	KeyPair crypto.PrivKey

	// RelayThrough is consulted on every dial.  It may be nil.
	RelayThrough RelayFunc
}

// Transport opens streams to remote peers.
type Transport interface {
	Dial(ctx context.Context, id peer.ID, opt DialOptions) (network.Stream, error)
	Destroyed() bool
}

// HostFactory builds the host used for dials that present a specific key
// pair.
type HostFactory func(crypto.PrivKey) (host.Host, error)

// NewHost returns a local libp2p host that is suitable for client-only
// use.
func NewHost(opt ...libp2p.Option) (host.Host, error) {
	return libp2p.New(append([]libp2p.Option{
		libp2p.NoTransports,
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(quic.NewTransport),
	}, opt...)...)
}

// DefaultHostFactory builds client-only hosts with NewHost.
func DefaultHostFactory(k crypto.PrivKey) (host.Host, error) {
	return NewHost(libp2p.Identity(k))
}

// Host is a Transport backed by a libp2p host.  Dials that present a key
// pair other than the host's own are made from a secondary host carrying
// that identity, created on first use and reused afterwards.
type Host struct {
	host    host.Host
	newHost HostFactory
	log     log.Logger

	mu     sync.Mutex
	closed bool
	hosts  map[peer.ID]host.Host
}

// New transport that dials from h.  The caller retains ownership of h.
func New(h host.Host, opt ...Option) *Host {
	t := &Host{
		host:  h,
		hosts: make(map[peer.ID]host.Host),
	}

	for _, option := range withDefault(opt) {
		option(t)
	}

	return t
}

func (t *Host) Loggable() map[string]interface{} {
	return map[string]interface{}{
		"id": t.host.ID(),
	}
}

// ID of the default identity.
func (t *Host) ID() peer.ID { return t.host.ID() }

// Dial opens a stream to the peer identified by id.
func (t *Host) Dial(ctx context.Context, id peer.ID, opt DialOptions) (network.Stream, error) {
	h, err := t.hostFor(opt.KeyPair)
	if err != nil {
		return nil, err
	}

	if opt.RelayThrough != nil {
		if relay := opt.RelayThrough(); relay != "" && relay != id {
			if ctx, err = viaRelay(ctx, h, relay, id); err != nil {
				return nil, err
			}
		}
	}

	s, err := h.NewStream(ctx, id, opt.Protocols...)
	if err != nil {
		if t.Destroyed() {
			return nil, ErrDestroyed
		}

		return nil, errors.Wrapf(err, "dial %s", id)
	}

	return s, nil
}

// Destroyed reports whether the transport has been closed.
func (t *Host) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// Close the transport and every secondary host it created.  The default
// host is left open.
func (t *Host) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	for id, h := range t.hosts {
		if e := h.Close(); e != nil && err == nil {
			err = errors.Wrapf(e, "close host %s", id)
		}
		delete(t.hosts, id)
	}

	return err
}

func (t *Host) hostFor(k crypto.PrivKey) (host.Host, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrDestroyed
	}

	if k == nil {
		return t.host, nil
	}

	id, err := peer.IDFromPrivateKey(k)
	if err != nil {
		return nil, errors.Wrap(err, "key pair")
	}

	if id == t.host.ID() {
		return t.host, nil
	}

	if h, ok := t.hosts[id]; ok {
		return h, nil
	}

	h, err := t.newHost(k)
	if err != nil {
		return nil, errors.Wrap(err, "new host")
	}

	t.log.WithField("id", id).Debug("created host for key pair")
	t.hosts[id] = h
	return h, nil
}

// viaRelay records a circuit address for id through relay, and permits the
// resulting limited connection to carry streams.
func viaRelay(ctx context.Context, h host.Host, relay, id peer.ID) (context.Context, error) {
	addr, err := ma.NewMultiaddr(fmt.Sprintf("/p2p/%s/p2p-circuit", relay))
	if err != nil {
		return ctx, errors.Wrap(err, "relay address")
	}

	h.Peerstore().AddAddr(id, addr, peerstore.TempAddrTTL)
	return network.WithAllowLimitedConn(ctx, "relay"), nil
}
