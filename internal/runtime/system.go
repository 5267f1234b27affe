package runtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"gopkg.in/alexcesaro/statsd.v2"

	logutil "github.com/wetware/rpcpool/internal/util/log"
	serviceutil "github.com/wetware/rpcpool/internal/util/service"
	"github.com/wetware/rpcpool/metrics"
)

/*************************************************************************
 *                                                                       *
 *  system.go provides logging, supervision and metrics exporters.       *
 *                                                                       *
 *************************************************************************/

var system = fx.Module("system",
	fx.Provide(
		logger,
		supervisor,
		statsdClient,
		registry,
		fx.Annotate(exporter, fx.ResultTags(`group:"services,flatten"`))))

func logger(c *cli.Context) log.Logger {
	return logutil.New(c)
}

func supervisor(log log.Logger) *suture.Supervisor {
	return suture.New("runtime", suture.Spec{
		EventHook: serviceutil.NewEventHook(log),
	})
}

func statsdClient(c *cli.Context, log log.Logger, lx fx.Lifecycle) (*statsd.Client, error) {
	s, err := metrics.NewStatsd(c.String("statsd"), log)
	if err == nil {
		lx.Append(fx.Hook{
			OnStop: func(context.Context) error {
				s.Close()
				return nil
			},
		})
	}

	return s, err
}

func registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// exporter serves the registry over HTTP if --prometheus is set.
func exporter(c *cli.Context, log log.Logger, reg *prometheus.Registry) []suture.Service {
	if !c.IsSet("prometheus") {
		return nil
	}

	return []suture.Service{&httpExporter{
		Addr:    c.String("prometheus"),
		Log:     log.WithField("prometheus", c.String("prometheus")),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}}
}

type httpExporter struct {
	Addr    string
	Log     log.Logger
	Handler http.Handler
}

func (e *httpExporter) String() string { return "prometheus" }

func (e *httpExporter) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler)

	l, err := net.Listen("tcp", e.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		srv.Shutdown(shutdown)
	}()

	e.Log.Info("serving metrics")

	if err = srv.Serve(l); errors.Is(err, http.ErrServerClosed) {
		err = ctx.Err()
	}

	return err
}
