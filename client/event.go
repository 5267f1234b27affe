package client

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/lthibault/log"
)

// eventQueueSize bounds the number of undelivered events per emitter.
const eventQueueSize = 32

// EvtStream is emitted on the event bus each time a connection opens a
// stream, on every attempt of a connect cycle.
type EvtStream struct {
	Key    Key
	Stream network.Stream
}

// EvtGC is emitted on the event bus when the pool sweeper evicts idle
// connections.
type EvtGC struct {
	Evicted []Key
}

// publisher emits events on the bus from its own goroutine.  A subscriber
// that stops reading blocks the bus, so events are dropped once the queue
// is full and Emit never blocks.
type publisher struct {
	e    event.Emitter
	log  log.Logger
	q    chan interface{}
	done chan struct{}
	once sync.Once
}

func emitter(bus event.Bus, evt interface{}, log log.Logger) event.Emitter {
	e, err := bus.Emitter(evt)
	if err != nil {
		log.WithError(err).Warn("failed to create event emitter")
		e = nopEmitter{}
	}

	p := &publisher{
		e:    e,
		log:  log,
		q:    make(chan interface{}, eventQueueSize),
		done: make(chan struct{}),
	}
	go p.run()

	return p
}

func (p *publisher) run() {
	defer p.e.Close()

	for {
		select {
		case evt := <-p.q:
			if err := p.e.Emit(evt); err != nil {
				p.log.WithError(err).Debug("failed to emit event")
			}
		case <-p.done:
			return
		}
	}
}

// Emit queues evt for delivery.  It never blocks.
func (p *publisher) Emit(evt interface{}) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	select {
	case p.q <- evt:
	case <-p.done:
	default:
		p.log.Debug("subscriber is behind; event dropped")
	}

	return nil
}

// Close stops delivery without waiting for an Emit that is stuck on a
// slow subscriber.
func (p *publisher) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(interface{}) error { return nil }
func (nopEmitter) Close() error           { return nil }
