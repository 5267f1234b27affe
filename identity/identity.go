// Package identity converts the various ways of naming a remote peer into a
// canonical peer.ID.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
)

// ErrInvalid is returned when a value cannot be interpreted as a peer
// identity.
var ErrInvalid = errors.New("invalid peer identity")

// Decode v into a peer.ID.  Supported forms are:
//
//   - peer.ID
//   - crypto.PubKey
//   - string: a base58 or CID-encoded peer ID, or a hex-encoded ed25519 key
//   - []byte: a raw 32-byte ed25519 key, a binary peer ID, or a marshaled
//     public key
func Decode(v any) (peer.ID, error) {
	switch id := v.(type) {
	case peer.ID:
		if err := id.Validate(); err != nil {
			return "", errors.Wrap(ErrInvalid, err.Error())
		}
		return id, nil

	case crypto.PubKey:
		return peer.IDFromPublicKey(id)

	case string:
		return decodeString(id)

	case []byte:
		return decodeBytes(id)

	case fmt.Stringer:
		return decodeString(id.String())
	}

	return "", errors.Wrapf(ErrInvalid, "unsupported type %T", v)
}

// Normalize v into the canonical string form of its peer.ID.
func Normalize(v any) (string, error) {
	id, err := Decode(v)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func decodeString(s string) (peer.ID, error) {
	if s == "" {
		return "", errors.Wrap(ErrInvalid, "empty string")
	}

	if id, err := peer.Decode(s); err == nil {
		return id, nil
	}

	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519KeySize {
		return fromEd25519(b)
	}

	return "", errors.Wrapf(ErrInvalid, "%q", s)
}

const ed25519KeySize = 32

func decodeBytes(b []byte) (peer.ID, error) {
	if len(b) == ed25519KeySize {
		return fromEd25519(b)
	}

	if id, err := peer.IDFromBytes(b); err == nil {
		return id, nil
	}

	pk, err := crypto.UnmarshalPublicKey(b)
	if err != nil {
		return "", errors.Wrap(ErrInvalid, err.Error())
	}

	return peer.IDFromPublicKey(pk)
}

func fromEd25519(b []byte) (peer.ID, error) {
	pk, err := crypto.UnmarshalEd25519PublicKey(b)
	if err != nil {
		return "", errors.Wrap(ErrInvalid, err.Error())
	}

	return peer.IDFromPublicKey(pk)
}
