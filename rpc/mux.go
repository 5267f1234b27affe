package rpc

import (
	"context"
	"fmt"
	"sync"
)

// Handler answers a single request.  The context expires when the channel
// carrying the request is destroyed.
type Handler func(ctx context.Context, req any) (any, error)

// Method binds a handler to its encodings.  Nil encodings default to Raw.
type Method struct {
	Request  Encoding
	Response Encoding
	Handler  Handler
}

// Mux routes inbound requests to methods by name.  The zero value is
// ready to use.
type Mux struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// Respond registers m under name, replacing any previous method.
func (mux *Mux) Respond(name string, m Method) {
	mux.mu.Lock()
	defer mux.mu.Unlock()

	if mux.methods == nil {
		mux.methods = make(map[string]Method)
	}

	mux.methods[name] = m
}

// Methods returns the names of the registered methods.
func (mux *Mux) Methods() []string {
	mux.mu.RLock()
	defer mux.mu.RUnlock()

	names := make([]string, 0, len(mux.methods))
	for name := range mux.methods {
		names = append(names, name)
	}

	return names
}

func (mux *Mux) lookup(name string) (Method, bool) {
	if mux == nil {
		return Method{}, false
	}

	mux.mu.RLock()
	defer mux.mu.RUnlock()

	m, ok := mux.methods[name]
	return m, ok && m.Handler != nil
}

// call dispatches a request frame and returns the response or error frame.
func (mux *Mux) call(ctx context.Context, req *frame) *frame {
	m, ok := mux.lookup(req.Method)
	if !ok {
		return errFrame(fmt.Errorf("%w: %s", ErrUnknownMethod, req.Method))
	}

	args, err := orRaw(m.Request).Decode(req.Payload)
	if err != nil {
		return errFrame(err)
	}

	res, err := invoke(ctx, m.Handler, args)
	if err != nil {
		return errFrame(err)
	}

	payload, err := orRaw(m.Response).Encode(res)
	if err != nil {
		return errFrame(err)
	}

	return &frame{Type: frameResponse, Payload: payload}
}

func invoke(ctx context.Context, h Handler, args any) (res any, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("handler panicked: %v", v)
		}
	}()

	return h(ctx, args)
}

func errFrame(err error) *frame {
	return &frame{Type: frameError, Error: err.Error()}
}
