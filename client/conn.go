package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lthibault/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/wetware/rpcpool/backoff"
	"github.com/wetware/rpcpool/limiter"
	"github.com/wetware/rpcpool/rpc"
	"github.com/wetware/rpcpool/transport"
)

// State of a connection.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	}

	return "invalid"
}

// Conn is a resilient connection to a single remote service.  It holds at
// most one live channel, opens it lazily, and reopens it with backoff when
// it fails.
type Conn struct {
	key    Key
	id     uuid.UUID
	t      transport.Transport
	config Config
	log    log.Logger

	rate    *limiter.Bucket
	slots   *limiter.Concurrent
	streams event.Emitter

	flight singleflight.Group
	closed chan struct{}

	mu         sync.Mutex
	current    *rpc.Channel
	pending    *rpc.Channel
	connecting bool
	suspended  bool
	closing    bool
	backoff    *backoff.Backoff
	attempt    context.Context
	abort      context.CancelFunc
	wake       chan struct{}
}

// NewConn returns a connection to the service identified by key.  No
// network activity takes place until the first call to Connect or Request.
func NewConn(t transport.Transport, key Key, opt ...Option) *Conn {
	return newConn(t, key, newConfig(opt))
}

func newConn(t transport.Transport, key Key, config Config) *Conn {
	c := &Conn{
		key:       key,
		id:        uuid.New(),
		t:         t,
		config:    config,
		closed:    make(chan struct{}),
		suspended: config.suspended,
		wake:      make(chan struct{}),
	}
	c.log = config.log.With(c)
	c.streams = emitter(config.bus, new(EvtStream), c.log)
	c.reset()

	if r := config.rate; r != nil {
		c.rate = limiter.NewBucket(r.Capacity, r.TokensPerInterval, r.Interval)
	}

	if config.maxConcurrent > 0 {
		c.slots = limiter.NewConcurrent(config.maxConcurrent)
	}

	return c
}

func (c *Conn) Loggable() map[string]interface{} {
	m := c.key.Loggable()
	m["conn"] = c.id
	return m
}

func (c *Conn) String() string { return c.key.String() }

// Key of the remote service.
func (c *Conn) Key() Key { return c.key }

// Stats updated by the connection.
func (c *Conn) Stats() *Stats { return c.config.stats }

// State of the connection.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closing:
		return StateClosed
	case c.suspended:
		return StateSuspended
	case c.current != nil && c.current.IsOpen() && !c.current.Closed():
		return StateConnected
	case c.connecting:
		return StateConnecting
	}

	return StateIdle
}

// Suspended reports whether the connection is suspended.
func (c *Conn) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.suspended
}

// Stream carrying the current channel, or nil.
func (c *Conn) Stream() network.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}

	s, _ := c.current.Stream().(network.Stream)
	return s
}

// RemotePeer at the far end of the current stream, or "" if there is no
// current stream.
func (c *Conn) RemotePeer() peer.ID {
	if s := c.Stream(); s != nil {
		return s.Conn().RemotePeer()
	}

	return ""
}

// Connect establishes the channel if it is not already live.  Concurrent
// calls share a single attempt; ctx only bounds the caller's wait.
//
// Connect returns nil without a live channel if the connection is
// suspended or closing.  It fails with ErrTransportDestroyed if the
// transport has been closed.
func (c *Conn) Connect(ctx context.Context) error {
	select {
	case res := <-c.flight.DoChan("connect", c.dial):
		return res.Err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Suspend the connection.  The live channel and any connection attempt
// are torn down, and requests block until Resume or Close.
func (c *Conn) Suspend() {
	c.mu.Lock()
	if c.suspended || c.closing {
		c.mu.Unlock()
		return
	}

	c.suspended = true
	c.abort()
	b, current, pending := c.backoff, c.current, c.pending
	c.current, c.pending = nil, nil
	c.mu.Unlock()

	b.Cancel()
	destroy(current, nil)
	destroy(pending, nil)
	c.flush()

	c.log.Debug("suspended")
}

// Resume a suspended connection.  A connection attempt starts in the
// background and blocked requests are released.
func (c *Conn) Resume() {
	c.mu.Lock()
	if !c.suspended || c.closing {
		c.mu.Unlock()
		return
	}

	c.suspended = false
	c.reset()
	c.broadcast()
	c.mu.Unlock()

	// A flight started before the suspension is still bound to the
	// aborted attempt.  Let it settle before starting a fresh one.
	go func() {
		c.flush()
		c.flight.DoChan("connect", c.dial)
	}()

	c.log.Debug("resumed")
}

// Close the connection.  Pending requests fail, and requests blocked on
// suspension are released.  Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.closed
		return nil
	}

	c.closing = true
	c.abort()
	b, current, pending := c.backoff, c.current, c.pending
	c.current, c.pending = nil, nil
	c.broadcast()
	c.mu.Unlock()

	b.Cancel()
	destroy(current, ErrClientClosing)
	destroy(pending, ErrClientClosing)
	c.flush()

	if c.rate != nil {
		c.rate.Destroy()
	}

	if c.slots != nil {
		c.slots.Destroy()
	}

	c.streams.Close()
	close(c.closed)

	c.log.Debug("closed")
	return nil
}

// Request calls method on the remote service.  It waits for the rate
// limit, then for a concurrency slot, then for a live channel, and fails
// with ErrRequestTimeout if the whole sequence does not complete in time.
//
// If the connection is closed while the request is blocked on suspension,
// Request returns nil, nil.
func (c *Conn) Request(ctx context.Context, method string, args any, opt ...CallOption) (any, error) {
	call := newCall(c.config.timeout, opt)

	if c.isClosing() {
		return nil, ErrClientClosing
	}

	ctx, cancel := context.WithTimeoutCause(ctx, call.timeout, ErrRequestTimeout)
	defer cancel()

	if c.rate != nil {
		if err := c.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.slots == nil {
		return c.send(ctx, method, args, call)
	}

	var res any
	err := c.slots.Execute(ctx, func() (err error) {
		res, err = c.send(ctx, method, args, call)
		return
	})

	return res, err
}

func (c *Conn) send(ctx context.Context, method string, args any, call *call) (any, error) {
	var waited, counted bool

	for {
		ch, err := c.await(ctx, &waited)
		if ch == nil {
			return nil, err
		}

		if !counted {
			c.config.stats.Requests.Sent.Inc()
			counted = true
		}

		res, err := c.roundTrip(ctx, ch, method, args, call)
		if err != nil && ch.Closed() && !ch.IsOpen() && ctx.Err() == nil {
			continue // the channel failed to open; wait for the next one
		}

		if err == nil {
			c.config.stats.Requests.Success.Inc()
		}

		return res, err
	}
}

// await a live channel.  It returns nil, nil if the connection closed
// after the caller blocked on suspension.
func (c *Conn) await(ctx context.Context, waited *bool) (*rpc.Channel, error) {
	for {
		c.mu.Lock()
		ch, closing := c.current, c.closing
		c.mu.Unlock()

		if closing {
			if *waited {
				return nil, nil
			}

			return nil, ErrClientClosing
		}

		if ch != nil && !ch.Closed() {
			return ch, nil
		}

		if err := c.Connect(ctx); err != nil {
			return nil, err
		}

		if err := c.waitResumed(ctx, waited); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) waitResumed(ctx context.Context, waited *bool) error {
	for {
		c.mu.Lock()
		wake, suspended, closing := c.wake, c.suspended, c.closing
		c.mu.Unlock()

		if !suspended || closing {
			return nil
		}

		*waited = true

		select {
		case <-wake:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// roundTrip issues the request with a timeout of its own, detached from
// ctx.  If ctx expires first, the caller returns and the round trip is
// left to finish on its own.
func (c *Conn) roundTrip(ctx context.Context, ch *rpc.Channel, method string, args any, call *call) (any, error) {
	type result struct {
		value any
		err   error
	}

	out := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), call.timeout)
		defer cancel()

		v, err := ch.Request(ctx, method, args, call.options())
		out <- result{value: v, err: err}
	}()

	select {
	case r := <-out:
		return r.value, r.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (c *Conn) dial() (any, error) {
	return nil, c.connect()
}

func (c *Conn) connect() error {
	c.mu.Lock()
	if c.current != nil && !c.current.Closed() {
		c.mu.Unlock()
		return nil
	}

	b, ctx := c.backoff, c.attempt
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	b.Reset()

	for first := true; c.active() && ctx.Err() == nil; first = false {
		if c.t.Destroyed() {
			return ErrTransportDestroyed
		}

		c.config.stats.Connection.Attempts.Inc()

		ch, err := c.open(ctx, first)
		if err == nil {
			if c.promote(ctx, ch) {
				return nil
			}
			continue
		}

		if errors.Is(err, transport.ErrDestroyed) {
			return ErrTransportDestroyed
		}

		if c.active() {
			c.log.WithError(err).
				WithField("attempt", b.Attempts()+1).
				Debug("connection attempt failed")
		}

		if b.Wait(ctx) != nil {
			break
		}
	}

	return nil
}

// track records ch as the pending channel.  The channel of the first
// attempt in a connect cycle is also published as current.  It reports
// false if the connection was suspended or closed in the meantime.
func (c *Conn) track(ctx context.Context, ch *rpc.Channel, first bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suspended || c.closing || ctx.Err() != nil {
		return false
	}

	c.pending = ch
	if first {
		c.current = ch
	}

	return true
}

func (c *Conn) untrack(ch *rpc.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == ch {
		c.pending = nil
	}
}

// promote a channel that opened successfully to current.
func (c *Conn) promote(ctx context.Context, ch *rpc.Channel) bool {
	c.mu.Lock()
	if c.suspended || c.closing || ctx.Err() != nil {
		c.mu.Unlock()
		ch.Destroy(nil)
		return false
	}

	if c.pending == ch {
		c.pending = nil
	}
	c.current = ch
	b := c.backoff
	c.mu.Unlock()

	b.Reset()
	c.config.stats.Connection.Opened.Inc()
	go c.watch(ch)

	c.log.Debug("connected")
	return true
}

// watch ch and reconnect in the background when it closes, unless it was
// closed deliberately.
func (c *Conn) watch(ch *rpc.Channel) {
	<-ch.Done()

	c.mu.Lock()
	reconnect := c.current == ch && !c.suspended && !c.closing
	c.mu.Unlock()

	if reconnect {
		c.log.WithError(ch.Err()).Debug("channel closed; reconnecting")
		c.flight.DoChan("connect", c.dial)
	}
}

func (c *Conn) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.suspended && !c.closing
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closing
}

// flush waits for any in-flight connect to settle.  A new flight returns
// immediately if the connection is suspended, closed or already live.
func (c *Conn) flush() {
	<-c.flight.DoChan("connect", c.dial)
}

// reset the backoff and the attempt context.  Callers must hold mu.
func (c *Conn) reset() {
	c.backoff = backoff.New(c.config.backoff...)
	c.attempt, c.abort = context.WithCancel(context.Background())
}

// broadcast wakes every request blocked on suspension.  Callers must hold
// mu.
func (c *Conn) broadcast() {
	close(c.wake)
	c.wake = make(chan struct{})
}

func destroy(ch *rpc.Channel, err error) {
	if ch != nil {
		ch.Destroy(err)
	}
}
