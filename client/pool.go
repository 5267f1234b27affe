package client

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/lthibault/log"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"github.com/wetware/rpcpool/identity"
	"github.com/wetware/rpcpool/transport"
	serviceutil "github.com/wetware/rpcpool/internal/util/service"
)

// Pool of connections keyed by remote service.  Connections are created on
// first use, reference-counted while requests are in flight, and closed by
// a background sweeper once they have been idle for a full GC interval.
type Pool struct {
	t      transport.Transport
	config Config
	log    log.Logger
	gc     event.Emitter

	start sync.Once
	stop  context.CancelFunc
	done  <-chan error

	mu        sync.Mutex
	refs      map[Key]*ref
	suspended bool
	closed    bool
}

type ref struct {
	conn     *Conn
	refs     int
	lastUsed time.Time
}

// New pool that dials remote peers through t.
func New(t transport.Transport, opt ...Option) *Pool {
	config := newConfig(opt)

	p := &Pool{
		t:         t,
		config:    config,
		log:       config.log,
		refs:      make(map[Key]*ref),
		suspended: config.suspended,
	}
	p.gc = emitter(config.bus, new(EvtGC), p.log)

	return p
}

// Stats shared by the pool's connections.
func (p *Pool) Stats() *Stats { return p.config.stats }

// EventBus on which EvtStream and EvtGC are emitted.
func (p *Pool) EventBus() event.Bus { return p.config.bus }

// Len returns the number of connections in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.refs)
}

// Open starts the idle sweeper.  It is called implicitly by Request, and
// is idempotent.  Open fails with ErrClientClosing after Close.
func (p *Pool) Open() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrClientClosing
	}

	p.start.Do(func() {
		sup := suture.New("pool", suture.Spec{
			EventHook: serviceutil.NewEventHook(p.log),
		})
		sup.Add(sweeper{pool: p, interval: p.config.gcInterval})

		var ctx context.Context
		ctx, p.stop = context.WithCancel(context.Background())
		p.done = sup.ServeBackground(ctx)
	})

	return nil
}

// Request calls method on the service at the peer identified by id.  The
// id may be anything accepted by identity.Decode; CallProtocol and CallID
// select the service on that peer.
func (p *Pool) Request(ctx context.Context, id any, method string, args any, opt ...CallOption) (any, error) {
	pid, err := identity.Decode(id)
	if err != nil {
		return nil, err
	}

	if err = p.Open(); err != nil {
		return nil, err
	}

	call := newCall(p.config.timeout, opt)
	r, err := p.acquire(Key{Peer: pid, Protocol: call.protocol, ID: call.id})
	if err != nil {
		return nil, err
	}
	defer p.release(r)

	return r.conn.Request(ctx, method, args, opt...)
}

// Sweep closes every connection that has no requests in flight and has
// been idle for at least one GC interval.  It returns the evicted keys.
func (p *Pool) Sweep(now time.Time) []Key {
	p.mu.Lock()
	var (
		evicted []Key
		idle    []*Conn
	)
	for key, r := range p.refs {
		if r.refs == 0 && now.Sub(r.lastUsed) >= p.config.gcInterval {
			delete(p.refs, key)
			evicted = append(evicted, key)
			idle = append(idle, r.conn)
		}
	}
	p.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}

	for _, conn := range idle {
		go conn.Close()
	}

	p.log.WithField("evicted", len(evicted)).Debug("collected idle connections")
	if err := p.gc.Emit(EvtGC{Evicted: evicted}); err != nil {
		p.log.WithError(err).Debug("failed to emit gc event")
	}

	return evicted
}

// Suspend every connection, and start connections created afterwards in
// the suspended state.  Suspend waits for all connections to settle.
func (p *Pool) Suspend() error {
	return p.each(func(c *Conn) { c.Suspend() }, true)
}

// Resume every connection.
func (p *Pool) Resume() error {
	return p.each(func(c *Conn) { c.Resume() }, false)
}

// Close the sweeper and every connection.  Requests in flight fail with
// ErrClientClosing.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}

	p.closed = true
	conns := p.conns()
	p.refs = make(map[Key]*ref)
	p.mu.Unlock()

	p.start.Do(func() {}) // sweeper can no longer start
	if p.stop != nil {
		p.stop()
		<-p.done
	}

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(conn.Close)
	}

	err := g.Wait()
	p.gc.Close()
	return err
}

func (p *Pool) acquire(key Key) (*ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClientClosing
	}

	r, ok := p.refs[key]
	if !ok {
		config := p.config
		config.suspended = p.suspended
		r = &ref{conn: newConn(p.t, key, config)}
		p.refs[key] = r
	}

	r.refs++
	r.lastUsed = time.Now()
	return r, nil
}

func (p *Pool) release(r *ref) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r.refs--
	r.lastUsed = time.Now()
}

func (p *Pool) each(f func(*Conn), suspended bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClientClosing
	}

	p.suspended = suspended
	conns := p.conns()
	p.mu.Unlock()

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			f(conn)
			return nil
		})
	}

	return g.Wait()
}

// conns in the pool.  Callers must hold mu.
func (p *Pool) conns() []*Conn {
	conns := make([]*Conn, 0, len(p.refs))
	for _, r := range p.refs {
		conns = append(conns, r.conn)
	}

	return conns
}
