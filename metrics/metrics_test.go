package metrics_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wetware/rpcpool/client"
	"github.com/wetware/rpcpool/metrics"
)

type source struct {
	stats client.Stats
	len   int
}

func (s *source) Stats() *client.Stats { return &s.stats }
func (s *source) Len() int             { return s.len }

type statsOnly struct{ stats client.Stats }

func (s *statsOnly) Stats() *client.Stats { return &s.stats }

func newSource() *source {
	src := &source{len: 2}
	src.stats.Connection.Attempts.Store(3)
	src.stats.Connection.Opened.Store(1)
	src.stats.Requests.Sent.Store(10)
	src.stats.Requests.Success.Store(9)
	return src
}

type gauges struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func (g *gauges) Gauge(bucket string, value interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.m == nil {
		g.m = make(map[string]interface{})
	}
	g.m[bucket] = value
}

func (g *gauges) get(bucket string) interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.m[bucket]
}

func TestReporter(t *testing.T) {
	t.Parallel()

	var g gauges
	metrics.Reporter{Statsd: &g, Source: newSource()}.Report()

	assert.Equal(t, int64(3), g.get("connection.attempts"))
	assert.Equal(t, int64(1), g.get("connection.opened"))
	assert.Equal(t, int64(10), g.get("requests.sent"))
	assert.Equal(t, int64(9), g.get("requests.success"))
	assert.Equal(t, 2, g.get("pool.size"))
}

func TestReporter_Serve(t *testing.T) {
	t.Parallel()

	var g gauges
	src := newSource()
	r := metrics.Reporter{Statsd: &g, Source: src, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return g.get("requests.sent") == int64(10)
	}, time.Second, 5*time.Millisecond)

	src.stats.Requests.Sent.Inc()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int64(11), g.get("requests.sent"), "should report on shutdown")
}

func TestNewStatsd_Muted(t *testing.T) {
	t.Parallel()

	c, err := metrics.NewStatsd("", nil)
	require.NoError(t, err)
	defer c.Close()

	metrics.Reporter{Statsd: c, Source: newSource()}.Report()
}

func TestCollector(t *testing.T) {
	t.Parallel()

	c := metrics.NewCollector(newSource(), prometheus.Labels{"pool": "test"})

	const want = `
# HELP rpcpool_connection_attempts_total Connection attempts, including retries.
# TYPE rpcpool_connection_attempts_total counter
rpcpool_connection_attempts_total{pool="test"} 3
# HELP rpcpool_connections_opened_total Channels that opened successfully.
# TYPE rpcpool_connections_opened_total counter
rpcpool_connections_opened_total{pool="test"} 1
# HELP rpcpool_pool_connections Connections held by the pool.
# TYPE rpcpool_pool_connections gauge
rpcpool_pool_connections{pool="test"} 2
# HELP rpcpool_requests_sent_total Requests sent over a live channel.
# TYPE rpcpool_requests_sent_total counter
rpcpool_requests_sent_total{pool="test"} 10
# HELP rpcpool_requests_succeeded_total Requests that returned a response.
# TYPE rpcpool_requests_succeeded_total counter
rpcpool_requests_succeeded_total{pool="test"} 9
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want)))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
}

func TestCollector_StatsOnly(t *testing.T) {
	t.Parallel()

	c := metrics.NewCollector(&statsOnly{}, nil)
	assert.Equal(t, 4, testutil.CollectAndCount(c))
}
