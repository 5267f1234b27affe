package client

import (
	"go.uber.org/atomic"
)

// Stats counts connection and request activity.  A Pool shares one Stats
// with all of its connections.
type Stats struct {
	Connection struct {
		Attempts atomic.Int64
		Opened   atomic.Int64
	}

	Requests struct {
		Sent    atomic.Int64
		Success atomic.Int64
	}
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	ConnectionAttempts int64 `json:"connection_attempts" yaml:"connection_attempts"`
	ConnectionsOpened  int64 `json:"connections_opened" yaml:"connections_opened"`
	RequestsSent       int64 `json:"requests_sent" yaml:"requests_sent"`
	RequestsSucceeded  int64 `json:"requests_succeeded" yaml:"requests_succeeded"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ConnectionAttempts: s.Connection.Attempts.Load(),
		ConnectionsOpened:  s.Connection.Opened.Load(),
		RequestsSent:       s.Requests.Sent.Load(),
		RequestsSucceeded:  s.Requests.Success.Load(),
	}
}

func (s Snapshot) Loggable() map[string]interface{} {
	return map[string]interface{}{
		"connection.attempts": s.ConnectionAttempts,
		"connection.opened":   s.ConnectionsOpened,
		"requests.sent":       s.RequestsSent,
		"requests.success":    s.RequestsSucceeded,
	}
}
