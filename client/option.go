package client

import (
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/p2p/host/eventbus"
	"github.com/lthibault/log"

	"github.com/wetware/rpcpool/backoff"
	"github.com/wetware/rpcpool/capability"
	"github.com/wetware/rpcpool/transport"
)

const (
	// DefaultTimeout applies to requests that do not set their own.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxConcurrent bounds in-flight requests per connection.
	DefaultMaxConcurrent = 16

	// DefaultGCInterval is the period of the pool's idle sweep.
	DefaultGCInterval = time.Minute
)

// Config is shared by a Pool and the connections it creates.
type Config struct {
	log           log.Logger
	backoff       []time.Duration
	timeout       time.Duration
	maxConcurrent int
	rate          *RateLimit
	keyPair       crypto.PrivKey
	relayThrough  transport.RelayFunc
	capability    *capability.Capability
	suspended     bool
	gcInterval    time.Duration
	stats         *Stats
	bus           event.Bus
}

// RateLimit parameters for a token bucket.
type RateLimit struct {
	Capacity          int           `yaml:"capacity"`
	TokensPerInterval int           `yaml:"tokens_per_interval"`
	Interval          time.Duration `yaml:"interval"`
}

// Option configures a Pool or a Conn.
type Option func(*Config)

// WithLogger sets the logger.  If l == nil, a default logger is used.
func WithLogger(l log.Logger) Option {
	if l == nil {
		l = log.New()
	}

	return func(c *Config) {
		c.log = l
	}
}

// WithBackoff sets the reconnection delays.  If no steps are supplied,
// backoff.DefaultSteps is used.
func WithBackoff(steps ...time.Duration) Option {
	if len(steps) == 0 {
		steps = backoff.DefaultSteps
	}

	return func(c *Config) {
		c.backoff = steps
	}
}

// WithTimeout sets the default request timeout.  If d <= 0,
// DefaultTimeout is used.
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		d = DefaultTimeout
	}

	return func(c *Config) {
		c.timeout = d
	}
}

// WithMaxConcurrent bounds the number of in-flight requests per
// connection.  If n <= 0, requests are not bounded.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) {
		c.maxConcurrent = n
	}
}

// WithRateLimit applies a token bucket to each connection.  A nil limit
// disables rate limiting.
func WithRateLimit(r *RateLimit) Option {
	return func(c *Config) {
		c.rate = r
	}
}

// WithKeyPair sets the local identity presented to remote peers.  If
// k == nil, the transport's default identity is used.
func WithKeyPair(k crypto.PrivKey) Option {
	return func(c *Config) {
		c.keyPair = k
	}
}

// WithRelayThrough sets the function consulted on each dial to choose a
// relay.  It may be nil.
func WithRelayThrough(f transport.RelayFunc) Option {
	return func(c *Config) {
		c.relayThrough = f
	}
}

// WithCapability attaches a capability proof to every channel.  A nil
// capability sends an empty handshake.
func WithCapability(cap *capability.Capability) Option {
	return func(c *Config) {
		c.capability = cap
	}
}

// WithSuspended starts connections in the suspended state.
func WithSuspended(suspended bool) Option {
	return func(c *Config) {
		c.suspended = suspended
	}
}

// WithGCInterval sets the period of the pool's idle sweep.  If d <= 0,
// DefaultGCInterval is used.
func WithGCInterval(d time.Duration) Option {
	if d <= 0 {
		d = DefaultGCInterval
	}

	return func(c *Config) {
		c.gcInterval = d
	}
}

// WithStats sets the counters updated by connections.  If s == nil, fresh
// counters are allocated.
func WithStats(s *Stats) Option {
	if s == nil {
		s = new(Stats)
	}

	return func(c *Config) {
		c.stats = s
	}
}

// WithEventBus sets the bus on which events are emitted.  If bus == nil,
// a private bus is created.
func WithEventBus(bus event.Bus) Option {
	return func(c *Config) {
		if c.bus = bus; bus == nil {
			c.bus = eventbus.NewBus()
		}
	}
}

func newConfig(opt []Option) Config {
	var c Config
	for _, option := range withDefault(opt) {
		option(&c)
	}

	return c
}

func withDefault(opt []Option) []Option {
	return append([]Option{
		WithLogger(nil),
		WithBackoff(),
		WithTimeout(0),
		WithMaxConcurrent(DefaultMaxConcurrent),
		WithGCInterval(0),
		WithStats(nil),
		WithEventBus(nil),
	}, opt...)
}
