package metrics

import (
	"context"
	"math/rand"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/lthibault/log"
	"gopkg.in/alexcesaro/statsd.v2"
)

// DefaultReportInterval between statsd samples.
const DefaultReportInterval = 15 * time.Second

// Gauger is the subset of *statsd.Client used by Reporter.
type Gauger interface {
	Gauge(bucket string, value interface{})
}

// NewStatsd returns a statsd client that sends to addr.  If addr is empty,
// the client is muted.
func NewStatsd(addr string, l log.Logger) (*statsd.Client, error) {
	if l == nil {
		l = log.New()
	}

	opt := []statsd.Option{
		statsd.Mute(addr == ""),
		statsd.Prefix("rpcpool"),
		statsd.FlushPeriod(250 * time.Millisecond),
		statsd.ErrorHandler(func(err error) {
			l.WithError(err).
				WithField("statsd", addr).
				Warn("failed to send metrics")
		}),
	}

	if addr != "" {
		opt = append(opt, statsd.Address(addr))
	}

	return statsd.New(opt...)
}

// Reporter periodically pushes a source's counters as statsd gauges.  It
// is a suture service.
type Reporter struct {
	Statsd   Gauger
	Source   Source
	Interval time.Duration
}

func (r Reporter) String() string { return "statsd" }

// Serve reports until ctx expires.
func (r Reporter) Serve(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	ticker := jitterbug.New(interval, jitterbug.Uniform{
		Min:    interval / 2,
		Source: rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Report()
		case <-ctx.Done():
			r.Report() // final sample
			return ctx.Err()
		}
	}
}

// Report a single sample.
func (r Reporter) Report() {
	s := r.Source.Stats().Snapshot()
	r.Statsd.Gauge("connection.attempts", s.ConnectionAttempts)
	r.Statsd.Gauge("connection.opened", s.ConnectionsOpened)
	r.Statsd.Gauge("requests.sent", s.RequestsSent)
	r.Statsd.Gauge("requests.success", s.RequestsSucceeded)

	if n, ok := size(r.Source); ok {
		r.Statsd.Gauge("pool.size", n)
	}
}
