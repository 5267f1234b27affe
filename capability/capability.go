// Package capability implements the proof of shared secret exchanged when a
// channel is opened.
//
// A proof binds a namespace and a secret to the identities of the
// initiating and responding peers and to the role of the side that
// produced it.  It does not verify on any other connection, nor when
// reflected back to its sender.
package capability

import (
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/wetware/rpcpool/rpc"
)

// ErrInvalidCapability is returned when a peer's proof does not match.
var ErrInvalidCapability = errors.New("invalid capability")

// Stream exposes the connection metadata a proof is bound to.
// network.Stream satisfies it.
type Stream interface {
	Conn() network.Conn
	Stat() network.Stats
}

const (
	roleInitiator byte = 'i'
	roleResponder byte = 'r'
)

// Capability is a namespaced shared secret.
type Capability struct {
	Namespace []byte
	Secret    []byte
}

// Generate the proof for the local end of s.
func (c Capability) Generate(s Stream) []byte {
	initiator, responder, local := roles(s)
	return c.proof(initiator, responder, local)
}

// Verify a proof produced by the remote end of s.
func (c Capability) Verify(s Stream, proof []byte) bool {
	initiator, responder, local := roles(s)

	remote := roleInitiator
	if local == roleInitiator {
		remote = roleResponder
	}

	want := c.proof(initiator, responder, remote)
	return subtle.ConstantTimeCompare(want, proof) == 1
}

// Handshake returns the open-frame payload carrying the local proof.  It is
// suitable for rpc.Service.Handshake.
func (c Capability) Handshake(s rpc.Stream) ([]byte, error) {
	cs, ok := s.(Stream)
	if !ok {
		return nil, errors.Errorf("%T does not expose its connection", s)
	}

	return Encode(c.Generate(cs))
}

// Check the remote open-frame payload.  It is suitable for
// rpc.Service.Verify.
func (c Capability) Check(s rpc.Stream, payload []byte) error {
	cs, ok := s.(Stream)
	if !ok {
		return errors.Wrapf(ErrInvalidCapability, "%T does not expose its connection", s)
	}

	proof, err := Decode(payload)
	if err != nil {
		return errors.Wrap(ErrInvalidCapability, err.Error())
	}

	if !c.Verify(cs, proof) {
		return ErrInvalidCapability
	}

	return nil
}

// Bind the capability to svc, so that the service answers with its own
// proof and rejects peers that fail to present a valid one.
func (c Capability) Bind(svc *rpc.Service) {
	svc.Handshake = c.Handshake
	svc.Verify = c.Check
}

func (c Capability) proof(initiator, responder peer.ID, role byte) []byte {
	h, err := blake2b.New256(c.key())
	if err != nil {
		panic(err) // unreachable; key is at most 64 bytes
	}

	writeField(h, c.Namespace)
	writeField(h, []byte(initiator))
	writeField(h, []byte(responder))
	h.Write([]byte{role})

	return h.Sum(nil)
}

func (c Capability) key() []byte {
	if len(c.Secret) > blake2b.Size {
		sum := blake2b.Sum512(c.Secret)
		return sum[:]
	}

	return c.Secret
}

func writeField(h io.Writer, b []byte) {
	var n [binary.MaxVarintLen64]byte
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	h.Write(b)
}

func roles(s Stream) (initiator, responder peer.ID, local byte) {
	conn := s.Conn()
	if s.Stat().Direction == network.DirInbound {
		return conn.RemotePeer(), conn.LocalPeer(), roleResponder
	}

	return conn.LocalPeer(), conn.RemotePeer(), roleInitiator
}

type handshake struct {
	Capability []byte `cbor:"1,keyasint,omitempty"`
}

// Encode a proof as an open-frame payload.
func Encode(proof []byte) ([]byte, error) {
	return cbor.Marshal(handshake{Capability: proof})
}

// Decode the proof carried by an open-frame payload.  An empty payload
// decodes to a nil proof.
func Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var hs handshake
	if err := cbor.Unmarshal(payload, &hs); err != nil {
		return nil, err
	}

	return hs.Capability, nil
}
