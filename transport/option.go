package transport

import (
	"github.com/lthibault/log"
)

// Option configures a transport.
type Option func(*Host)

// WithLogger sets the logger.  If l == nil, a default logger is used.
func WithLogger(l log.Logger) Option {
	if l == nil {
		l = log.New()
	}

	return func(t *Host) {
		t.log = l.With(t)
	}
}

// WithHostFactory sets the constructor for the secondary hosts used by
// dials that present their own key pair.  If f == nil, DefaultHostFactory
// is used.
func WithHostFactory(f HostFactory) Option {
	if f == nil {
		f = DefaultHostFactory
	}

	return func(t *Host) {
		t.newHost = f
	}
}

func withDefault(opt []Option) []Option {
	return append([]Option{
		WithLogger(nil),
		WithHostFactory(nil),
	}, opt...)
}
