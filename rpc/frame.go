package rpc

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-msgio"
	"github.com/pkg/errors"
)

// MaxMessageSize is the largest frame that will be read from a stream.
const MaxMessageSize = 4 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

type frameType uint8

const (
	frameOpen frameType = iota + 1
	frameRequest
	frameResponse
	frameError
	frameClose
)

func (t frameType) String() string {
	switch t {
	case frameOpen:
		return "open"
	case frameRequest:
		return "request"
	case frameResponse:
		return "response"
	case frameError:
		return "error"
	case frameClose:
		return "close"
	}

	return fmt.Sprintf("frameType(%d)", t)
}

// frame is the unit of exchange on a stream.  The open frame carries the
// service selector and the handshake payload; request, response and error
// frames are correlated by Seq.
type frame struct {
	Type     frameType `cbor:"1,keyasint"`
	Seq      uint64    `cbor:"2,keyasint,omitempty"`
	Method   string    `cbor:"3,keyasint,omitempty"`
	ID       []byte    `cbor:"4,keyasint,omitempty"`
	Protocol string    `cbor:"5,keyasint,omitempty"`
	Payload  []byte    `cbor:"6,keyasint,omitempty"`
	Error    string    `cbor:"7,keyasint,omitempty"`
}

// FrameError reports a malformed or unexpected frame.
type FrameError struct {
	Type  string
	Cause error
}

func (e FrameError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("unexpected %s frame", e.Type)
	}

	return fmt.Sprintf("%s frame: %v", e.Type, e.Cause)
}

func (e FrameError) Unwrap() error { return e.Cause }

func (e FrameError) Loggable() map[string]interface{} {
	return map[string]interface{}{
		"frame": e.Type,
		"error": e.Cause,
	}
}

// framer reads and writes varint-length-prefixed CBOR frames.  Reads must
// be confined to a single goroutine; writes are serialized.
type framer struct {
	s Stream
	r msgio.ReadCloser

	mu sync.Mutex
	w  msgio.WriteCloser
}

func newFramer(s Stream) *framer {
	return &framer{
		s: s,
		r: msgio.NewVarintReaderSize(s, MaxMessageSize),
		w: msgio.NewVarintWriter(s),
	}
}

func (f *framer) Send(fr *frame) error {
	b, err := encMode.Marshal(fr)
	if err != nil {
		return FrameError{Type: fr.Type.String(), Cause: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.w.WriteMsg(b)
}

// SendWithin attempts to send fr, giving up after d.  It reports whether
// the frame was written.  A write that is still blocked when SendWithin
// returns is released by closing or resetting the stream.
func (f *framer) SendWithin(fr *frame, d time.Duration) bool {
	if s, ok := f.s.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if s.SetWriteDeadline(time.Now().Add(d)) == nil {
			return f.Send(fr) == nil
		}
	}

	sent := make(chan error, 1)
	go func() {
		sent <- f.Send(fr)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-sent:
		return err == nil
	case <-timer.C:
		return false
	}
}

func (f *framer) Recv() (*frame, error) {
	b, err := f.r.ReadMsg()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrChannelClosed
		}

		return nil, errors.Wrap(err, "read")
	}
	defer f.r.ReleaseMsg(b)

	var fr frame
	if err = decMode.Unmarshal(b, &fr); err != nil {
		return nil, FrameError{Type: "unknown", Cause: err}
	}

	return &fr, nil
}
