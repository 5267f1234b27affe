// Package rpc implements a request/response channel over a single
// multiplexed stream.
//
// Each side of a channel announces itself with an open frame carrying a
// service selector (id and sub-protocol) and an opaque handshake payload.
// Requests and responses are then correlated by sequence number, so many
// requests may be in flight on one channel.
package rpc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/lthibault/log"
	"github.com/pkg/errors"
)

// Stream is the transport of a channel.  network.Stream satisfies it, as
// does net.Conn.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// closeTimeout bounds the best-effort write of a close frame.
const closeTimeout = 100 * time.Millisecond

// Options for a channel.
type Options struct {
	// ID and Protocol select the remote service.
	ID       []byte
	Protocol string

	// Handshake is sent to the remote end in the open frame.
	Handshake []byte

	// Methods answers requests sent by the remote end.  A nil Methods
	// rejects every inbound request.
	Methods *Mux

	Log log.Logger
}

// RequestOptions control how a single request is encoded.  Nil encodings
// default to Raw.
type RequestOptions struct {
	RequestEncoding  Encoding
	ResponseEncoding Encoding
}

// Channel is one side of an RPC session.
type Channel struct {
	s   Stream
	f   *framer
	opt Options
	log log.Logger

	ctx     context.Context
	destroy context.CancelCauseFunc
	once    sync.Once

	opened   chan struct{}
	openOnce sync.Once
	remote   *frame

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan<- *frame
}

// NewChannel opens a channel on s.  The open frame is sent in the
// background; use WaitOpen to block until the remote end has answered.
func NewChannel(s Stream, opt Options) *Channel {
	ch := newChannel(newFramer(s), opt)
	go ch.recv()
	go ch.sendOpen()
	return ch
}

func newChannel(f *framer, opt Options) *Channel {
	if opt.Log == nil {
		opt.Log = log.New()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Channel{
		s:       f.s,
		f:       f,
		opt:     opt,
		log:     opt.Log,
		ctx:     ctx,
		destroy: cancel,
		opened:  make(chan struct{}),
		pending: make(map[uint64]chan<- *frame),
	}
}

func (ch *Channel) Loggable() map[string]interface{} {
	m := map[string]interface{}{}
	if ch.opt.Protocol != "" {
		m["protocol"] = ch.opt.Protocol
	}
	if len(ch.opt.ID) > 0 {
		m["id"] = ch.opt.ID
	}

	return m
}

// Stream underlying the channel.
func (ch *Channel) Stream() Stream { return ch.s }

// ID of the service selected by the channel.
func (ch *Channel) ID() []byte { return ch.opt.ID }

// Protocol of the service selected by the channel.
func (ch *Channel) Protocol() string { return ch.opt.Protocol }

// Opened is closed once the remote open frame has been received.
func (ch *Channel) Opened() <-chan struct{} { return ch.opened }

// IsOpen reports whether the remote open frame has been received.  It
// remains true after the channel is destroyed.
func (ch *Channel) IsOpen() bool {
	select {
	case <-ch.opened:
		return true
	default:
		return false
	}
}

// Done is closed when the channel is destroyed.
func (ch *Channel) Done() <-chan struct{} { return ch.ctx.Done() }

// Closed reports whether the channel has been destroyed.
func (ch *Channel) Closed() bool { return ch.ctx.Err() != nil }

// Err returns the reason the channel was destroyed, or nil.
func (ch *Channel) Err() error {
	if ch.ctx.Err() == nil {
		return nil
	}

	return context.Cause(ch.ctx)
}

// Handshake returns the payload of the remote open frame.  It returns nil
// before the channel is open.
func (ch *Channel) Handshake() []byte {
	select {
	case <-ch.opened:
		return ch.remote.Payload
	default:
		return nil
	}
}

// WaitOpen blocks until the remote end opens the channel, and returns its
// handshake payload.  It fails if the channel is destroyed or ctx expires
// first.
func (ch *Channel) WaitOpen(ctx context.Context) ([]byte, error) {
	select {
	case <-ch.opened:
		return ch.remote.Payload, nil
	case <-ch.ctx.Done():
		return nil, ch.Err()
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Request calls method on the remote end and waits for the response.
func (ch *Channel) Request(ctx context.Context, method string, args any, opt RequestOptions) (any, error) {
	payload, err := orRaw(opt.RequestEncoding).Encode(args)
	if err != nil {
		return nil, err
	}

	if _, err = ch.WaitOpen(ctx); err != nil {
		return nil, err
	}

	reply := make(chan *frame, 1)
	seq, err := ch.register(reply)
	if err != nil {
		return nil, err
	}
	defer ch.unregister(seq)

	if err = ch.f.Send(&frame{
		Type:    frameRequest,
		Seq:     seq,
		Method:  method,
		Payload: payload,
	}); err != nil {
		ch.Destroy(err)
		return nil, err
	}

	select {
	case fr := <-reply:
		if fr.Type == frameError {
			return nil, &RemoteError{Method: method, Message: fr.Error}
		}

		return orRaw(opt.ResponseEncoding).Decode(fr.Payload)

	case <-ch.ctx.Done():
		return nil, ch.Err()

	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Destroy the channel.  A nil err closes the stream gracefully; otherwise
// the reason is sent to the remote end on a best-effort basis and the
// stream is reset.  Only the first call has any effect.
func (ch *Channel) Destroy(err error) {
	ch.once.Do(func() {
		if err == nil {
			ch.destroy(ErrChannelClosed)
			ch.s.Close()
			return
		}

		ch.destroy(err)

		if !errors.Is(err, ErrChannelClosed) {
			ch.f.SendWithin(&frame{Type: frameClose, Error: err.Error()}, closeTimeout)
		}

		if s, ok := ch.s.(interface{ Reset() error }); ok {
			s.Reset()
		} else {
			ch.s.Close()
		}
	})
}

func (ch *Channel) register(reply chan<- *frame) (uint64, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.Closed() {
		return 0, ch.Err()
	}

	ch.seq++
	ch.pending[ch.seq] = reply
	return ch.seq, nil
}

func (ch *Channel) unregister(seq uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	delete(ch.pending, seq)
}

func (ch *Channel) sendOpen() {
	if err := ch.f.Send(&frame{
		Type:     frameOpen,
		ID:       ch.opt.ID,
		Protocol: ch.opt.Protocol,
		Payload:  ch.opt.Handshake,
	}); err != nil {
		ch.Destroy(errors.Wrap(err, "send open"))
	}
}

func (ch *Channel) markOpen(fr *frame) {
	ch.openOnce.Do(func() {
		ch.remote = fr
		close(ch.opened)
	})
}

func (ch *Channel) recv() {
	for {
		fr, err := ch.f.Recv()
		if err != nil {
			ch.Destroy(err)
			return
		}

		switch fr.Type {
		case frameOpen:
			ch.markOpen(fr)

		case frameResponse, frameError:
			ch.deliver(fr)

		case frameRequest:
			go ch.serve(fr)

		case frameClose:
			ch.Destroy(errors.Wrap(ErrChannelClosed, fr.Error))
			return

		default:
			ch.log.With(FrameError{Type: fr.Type.String()}).
				Debug("dropped frame")
		}
	}
}

func (ch *Channel) deliver(fr *frame) {
	ch.mu.Lock()
	reply, ok := ch.pending[fr.Seq]
	ch.mu.Unlock()

	if !ok {
		return
	}

	select {
	case reply <- fr:
	default:
		ch.log.WithField("seq", fr.Seq).Debug("dropped duplicate response")
	}
}

func (ch *Channel) serve(fr *frame) {
	res := ch.opt.Methods.call(ch.ctx, fr)
	res.Seq = fr.Seq

	if err := ch.f.Send(res); err != nil && !ch.Closed() {
		ch.log.WithError(err).
			WithField("method", fr.Method).
			Debug("failed to send response")
	}
}
