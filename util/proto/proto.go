// Package proto builds and matches the libp2p protocol IDs under which
// RPC services are exposed.  Every ID has the form
//
//	/rpcpool/<version>/<name>
//
// where name selects a sub-protocol on the remote peer.
package proto

import (
	"path"
	"strings"

	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/wetware/rpcpool"
)

const (
	// Prefix is the first component of every protocol ID.
	Prefix = "rpcpool"

	// Default sub-protocol, used when none is specified.
	Default = "rpc"
)

// Root returns the protocol ID for the supplied sub-protocol name.
// An empty name is replaced by Default.
func Root(name string) protocol.ID {
	return Join(Prefix, rpcpool.Version, protocol.ID(orDefault(name)))
}

// Namespace returns the protocol IDs that a client offers when opening
// a stream for the supplied sub-protocol, most preferred first.
func Namespace(name string) []protocol.ID {
	return []protocol.ID{Root(name)}
}

// NewMatcher returns a matcher for protocol IDs of the form
// /rpcpool/<version>/<name>, accepting any version with the same major
// number as ours.
func NewMatcher(name string) MatchFunc {
	return Match(
		Exactly(Prefix),
		SemVer(rpcpool.Version),
		Rest(orDefault(name)))
}

// Name returns the sub-protocol name carried by id, and false if id
// does not belong to the rpcpool family.
func Name(id protocol.ID) (string, bool) {
	parts := Parts(id)
	if len(parts) < 3 || parts[0] != Prefix {
		return "", false
	}

	return string(Join(parts[2:]...)), true
}

// Join protocol ID components with the path separator.
func Join(ids ...protocol.ID) protocol.ID {
	return protocol.ID(path.Join(protocol.ConvertToStrings(ids)...))
}

// Parts splits id into its non-empty components.
func Parts(id protocol.ID) []protocol.ID {
	fields := strings.FieldsFunc(string(id), func(r rune) bool {
		return r == '/'
	})

	return protocol.ConvertFromStrings(fields)
}

func orDefault(name string) string {
	if name = strings.Trim(name, "/"); name == "" {
		return Default
	}

	return name
}
