package rpc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrChannelClosed is returned by operations on a channel that has been
	// destroyed, or whose stream was closed by the remote end.
	ErrChannelClosed = errors.New("channel closed")

	// ErrUnknownService is reported to a peer that opens a channel for a
	// service that is not registered.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownMethod is reported to a peer that calls a method with no
	// handler.
	ErrUnknownMethod = errors.New("unknown method")
)

// RemoteError is returned by Request when the remote handler failed.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}

func (e *RemoteError) Loggable() map[string]interface{} {
	return map[string]interface{}{
		"method": e.Method,
		"error":  e.Message,
	}
}
