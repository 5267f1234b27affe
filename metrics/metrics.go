// Package metrics exports client.Stats to statsd and Prometheus.
package metrics

import "github.com/wetware/rpcpool/client"

// Source of counters.  *client.Pool and *client.Conn both satisfy it.
type Source interface {
	Stats() *client.Stats
}

// Sizer is implemented by sources that hold a number of connections,
// such as *client.Pool.
type Sizer interface {
	Len() int
}

func size(src Source) (int, bool) {
	if s, ok := src.(Sizer); ok {
		return s.Len(), true
	}

	return 0, false
}
