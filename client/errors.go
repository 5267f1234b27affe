package client

import (
	"github.com/pkg/errors"

	"github.com/wetware/rpcpool/limiter"
	"github.com/wetware/rpcpool/transport"
)

var (
	// ErrRequestTimeout is returned when a request does not complete within
	// its timeout.  The connection is left open.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrClientClosing is returned by requests made on, or pending in, a
	// connection or pool that is closing.
	ErrClientClosing = errors.New("client closing")

	// ErrTransportDestroyed is returned when the transport was closed
	// before a connection could be established.
	ErrTransportDestroyed = transport.ErrDestroyed

	// ErrDestroyed is returned to requests that were waiting on a rate or
	// concurrency limit when the connection closed.
	ErrDestroyed = limiter.ErrDestroyed
)
