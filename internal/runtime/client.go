package runtime

import (
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"gopkg.in/alexcesaro/statsd.v2"

	"github.com/wetware/rpcpool/client"
	"github.com/wetware/rpcpool/metrics"
	"github.com/wetware/rpcpool/transport"
)

// Client provides a connection pool and the transport it dials through.
// The pool's counters are reported to statsd and Prometheus.
func Client() fx.Option {
	return fx.Module("client",
		Network(),
		fx.Provide(
			newTransport,
			newPool,
			fx.Annotate(reporter, fx.ResultTags(`group:"services"`))),
		fx.Invoke(collect))
}

func newTransport(h host.Host, log log.Logger, lx fx.Lifecycle) *transport.Host {
	t := transport.New(h, transport.WithLogger(log))
	lx.Append(closer(t))
	return t
}

type poolConfig struct {
	fx.In

	CLI       *cli.Context
	Log       log.Logger
	Transport *transport.Host
	Lifecycle fx.Lifecycle
}

// Options from the settings file, overridden by flags.
func (config poolConfig) Options() ([]client.Option, error) {
	var opt []client.Option

	if config.CLI.IsSet("config") {
		s, err := client.LoadSettings(config.CLI.Path("config"))
		if err != nil {
			return nil, err
		}

		opt = append(opt, s.Options()...)
	}

	if config.CLI.IsSet("timeout") {
		opt = append(opt, client.WithTimeout(config.CLI.Duration("timeout")))
	}

	if cap := Capability(config.CLI); cap != nil {
		opt = append(opt, client.WithCapability(cap))
	}

	if config.CLI.IsSet("key") {
		k, err := ReadKey(config.CLI.Path("key"))
		if err != nil {
			return nil, err
		}

		opt = append(opt, client.WithKeyPair(k))
	}

	return append(opt, client.WithLogger(config.Log)), nil
}

func newPool(config poolConfig) (*client.Pool, error) {
	opt, err := config.Options()
	if err != nil {
		return nil, err
	}

	p := client.New(config.Transport, opt...)
	config.Lifecycle.Append(closer(p))

	return p, p.Open()
}

func reporter(c *cli.Context, s *statsd.Client, p *client.Pool) suture.Service {
	return metrics.Reporter{
		Statsd:   s,
		Source:   p,
		Interval: c.Duration("report-interval"),
	}
}

func collect(reg *prometheus.Registry, p *client.Pool) error {
	return reg.Register(metrics.NewCollector(p, nil))
}
