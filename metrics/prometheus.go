package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a source's counters to Prometheus.
type Collector struct {
	src Source

	attempts, opened, sent, success, size *prometheus.Desc
}

// NewCollector for src.  Constant labels are attached to every metric.
func NewCollector(src Source, labels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("rpcpool", "", name), help, nil, labels)
	}

	return &Collector{
		src:      src,
		attempts: desc("connection_attempts_total", "Connection attempts, including retries."),
		opened:   desc("connections_opened_total", "Channels that opened successfully."),
		sent:     desc("requests_sent_total", "Requests sent over a live channel."),
		success:  desc("requests_succeeded_total", "Requests that returned a response."),
		size:     desc("pool_connections", "Connections held by the pool."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.attempts
	ch <- c.opened
	ch <- c.sent
	ch <- c.success

	if _, ok := size(c.src); ok {
		ch <- c.size
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats().Snapshot()
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.ConnectionAttempts))
	ch <- prometheus.MustNewConstMetric(c.opened, prometheus.CounterValue, float64(s.ConnectionsOpened))
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.RequestsSent))
	ch <- prometheus.MustNewConstMetric(c.success, prometheus.CounterValue, float64(s.RequestsSucceeded))

	if n, ok := size(c.src); ok {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(n))
	}
}
