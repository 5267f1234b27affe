// Package client provides resilient request/response connections to remote
// peers.
//
// A Conn is a single logical connection to one service on one peer.  It
// reconnects with backoff when its stream fails, can be suspended and
// resumed by the application, and applies rate and concurrency limits to
// the requests it carries.
//
// A Pool multiplexes requests to many peers over Conns that it creates on
// demand, keyed by peer identity and service selector.  Conns that go
// unused are closed by a background sweeper.
package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/wetware/rpcpool/rpc"
	"github.com/wetware/rpcpool/util/proto"
)

// Key identifies a remote service: a peer, and optionally a sub-protocol
// and an id that select a service on that peer.  Distinct keys for the
// same peer are served by independent connections.
type Key struct {
	Peer     peer.ID
	Protocol string
	ID       string
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Peer.String())

	if k.Protocol != "" {
		b.WriteByte('/')
		b.WriteString(k.Protocol)
	}

	if k.ID != "" {
		fmt.Fprintf(&b, "#%x", k.ID)
	}

	return b.String()
}

func (k Key) Loggable() map[string]interface{} {
	m := map[string]interface{}{
		"peer": k.Peer,
	}

	if k.Protocol != "" {
		m["protocol"] = k.Protocol
	}

	if k.ID != "" {
		m["service_id"] = fmt.Sprintf("%x", k.ID)
	}

	return m
}

// CallOption configures a single request.
type CallOption func(*call)

type call struct {
	timeout           time.Duration
	protocol, id      string
	request, response rpc.Encoding
}

// CallTimeout overrides the default request timeout.
func CallTimeout(d time.Duration) CallOption {
	return func(c *call) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// CallEncoding sets the request and response encodings.  Nil encodings
// default to rpc.Raw.
func CallEncoding(request, response rpc.Encoding) CallOption {
	return func(c *call) {
		c.request = request
		c.response = response
	}
}

// CallProtocol selects the sub-protocol of the remote service.  It is only
// meaningful for Pool requests, since a Conn's service is fixed.
func CallProtocol(name string) CallOption {
	return func(c *call) {
		c.protocol = name
	}
}

// CallID selects the id of the remote service.  It is only meaningful for
// Pool requests, since a Conn's service is fixed.
func CallID(id []byte) CallOption {
	return func(c *call) {
		c.id = string(id)
	}
}

func newCall(timeout time.Duration, opt []CallOption) *call {
	c := &call{timeout: timeout}
	for _, option := range opt {
		option(c)
	}

	if c.protocol == "" {
		c.protocol = proto.Default
	}

	return c
}

func (c *call) options() rpc.RequestOptions {
	return rpc.RequestOptions{
		RequestEncoding:  c.request,
		ResponseEncoding: c.response,
	}
}
