package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/lthibault/log"
	"github.com/pkg/errors"

	"github.com/wetware/rpcpool/util/proto"
)

// DefaultOpenTimeout bounds the wait for a peer's open frame.
const DefaultOpenTimeout = 10 * time.Second

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// Service is a set of methods selected by sub-protocol and id.
type Service struct {
	ID       []byte
	Protocol string

	// Handshake produces the payload of the open frame sent to the peer.
	// It may be nil.
	Handshake func(Stream) ([]byte, error)

	// Verify checks the peer's handshake payload.  If it fails, the channel
	// is destroyed before it is opened.  It may be nil.
	Verify func(s Stream, remote []byte) error

	Mux
}

func (svc *Service) key() serviceKey {
	return serviceKey{protocol: protocolName(svc.Protocol), id: string(svc.ID)}
}

func (svc *Service) String() string {
	if len(svc.ID) == 0 {
		return protocolName(svc.Protocol)
	}

	return fmt.Sprintf("%s#%x", protocolName(svc.Protocol), svc.ID)
}

type serviceKey struct{ protocol, id string }

// Server answers channels opened by remote peers.
type Server struct {
	Log         log.Logger
	OpenTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	services map[serviceKey]*Service
	channels map[*Channel]struct{}
}

// Register a service.  It fails if a service with the same protocol and id
// is already registered.
func (s *Server) Register(svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.services == nil {
		s.services = make(map[serviceKey]*Service)
	}

	if _, dup := s.services[svc.key()]; dup {
		return errors.Errorf("service %s already registered", svc)
	}

	s.services[svc.key()] = svc
	return nil
}

// Bind the server to a libp2p host under the supplied sub-protocols.  The
// returned function removes the stream handlers.
func (s *Server) Bind(h host.Host, protocols ...string) (release func()) {
	if len(protocols) == 0 {
		protocols = []string{proto.Default}
	}

	for _, name := range protocols {
		h.SetStreamHandlerMatch(proto.Root(name), proto.NewMatcher(name).Match, s.handle)
	}

	return func() {
		for _, name := range protocols {
			h.RemoveStreamHandler(proto.Root(name))
		}
	}
}

func (s *Server) handle(stream network.Stream) {
	if err := s.Serve(stream); err != nil {
		s.logger().
			WithError(err).
			WithField("peer", stream.Conn().RemotePeer()).
			Debug("channel closed")
	}
}

// Serve a single stream.  Serve blocks until the channel is destroyed.
func (s *Server) Serve(stream Stream) error {
	f := newFramer(stream)

	fr, err := s.awaitOpen(f)
	if err != nil {
		stream.Close()
		return err
	}

	svc, ok := s.lookup(fr)
	if !ok {
		f.SendWithin(&frame{Type: frameClose, Error: ErrUnknownService.Error()}, closeTimeout)
		stream.Close()
		return errors.Wrapf(ErrUnknownService, "%s#%x", protocolName(fr.Protocol), fr.ID)
	}

	var hs []byte
	if svc.Handshake != nil {
		if hs, err = svc.Handshake(stream); err != nil {
			stream.Close()
			return errors.Wrap(err, "handshake")
		}
	}

	ch := newChannel(f, Options{
		ID:        fr.ID,
		Protocol:  fr.Protocol,
		Handshake: hs,
		Methods:   &svc.Mux,
		Log:       s.logger().WithField("service", svc.String()),
	})
	ch.markOpen(fr)

	if !s.track(ch) {
		ch.Destroy(ErrServerClosed)
		return ErrServerClosed
	}
	defer s.untrack(ch)

	if svc.Verify != nil {
		if err = svc.Verify(stream, fr.Payload); err != nil {
			ch.Destroy(err)
			return err
		}
	}

	ch.sendOpen()
	ch.recv()
	return nil
}

// Close the server, destroying every channel it is serving.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()

	for ch := range channels {
		ch.Destroy(ErrServerClosed)
	}

	return nil
}

func (s *Server) awaitOpen(f *framer) (*frame, error) {
	type readDeadliner interface{ SetReadDeadline(time.Time) error }

	if d, ok := f.s.(readDeadliner); ok {
		timeout := s.OpenTimeout
		if timeout <= 0 {
			timeout = DefaultOpenTimeout
		}

		d.SetReadDeadline(time.Now().Add(timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	fr, err := f.Recv()
	if err != nil {
		return nil, err
	}

	if fr.Type != frameOpen {
		return nil, FrameError{Type: fr.Type.String()}
	}

	return fr, nil
}

func (s *Server) lookup(fr *frame) (*Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[serviceKey{protocol: protocolName(fr.Protocol), id: string(fr.ID)}]
	return svc, ok
}

func (s *Server) track(ch *Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if s.channels == nil {
		s.channels = make(map[*Channel]struct{})
	}

	s.channels[ch] = struct{}{}
	return true
}

func (s *Server) untrack(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels, ch)
}

func (s *Server) logger() log.Logger {
	if s.Log == nil {
		return log.New()
	}

	return s.Log
}

func protocolName(name string) string {
	if name == "" {
		return proto.Default
	}

	return name
}
