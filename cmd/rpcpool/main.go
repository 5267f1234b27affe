package main

import (
	"context"
	"os"

	"github.com/lthibault/log"
	"github.com/urfave/cli/v2"

	"github.com/wetware/rpcpool"
	"github.com/wetware/rpcpool/internal/cmd/call"
	"github.com/wetware/rpcpool/internal/cmd/keygen"
	"github.com/wetware/rpcpool/internal/cmd/serve"
	"github.com/wetware/rpcpool/metrics"
	ctxutil "github.com/wetware/rpcpool/internal/util/ctx"
	logutil "github.com/wetware/rpcpool/internal/util/log"
)

var flags = append(logutil.Flags(),
	// Metrics
	&cli.StringFlag{
		Name:        "statsd",
		Aliases:     []string{"metrics"},
		Usage:       "send metrics to udp `host:port`",
		EnvVars:     []string{"RPCPOOL_STATSD"},
		DefaultText: "disabled",
	},
	&cli.DurationFlag{
		Name:    "report-interval",
		Usage:   "statsd reporting `interval`",
		Value:   metrics.DefaultReportInterval,
		EnvVars: []string{"RPCPOOL_REPORT_INTERVAL"},
	},
	&cli.StringFlag{
		Name:        "prometheus",
		Usage:       "serve Prometheus metrics on `host:port`",
		EnvVars:     []string{"RPCPOOL_PROMETHEUS"},
		DefaultText: "disabled",
	})

var commands = []*cli.Command{
	serve.Command(),
	call.Command(),
	keygen.Command(),
}

func main() {
	ctx, cancel := ctxutil.WithLifetime(context.Background())
	defer cancel()

	run(ctx, &cli.App{
		Name:                 "rpcpool",
		Usage:                "resilient request/response over libp2p",
		UsageText:            "rpcpool [global options] command [command options] [arguments...]",
		Version:              rpcpool.Version,
		EnableBashCompletion: true,
		Flags:                flags,
		Commands:             commands,
		Metadata: map[string]interface{}{
			"version": rpcpool.Version,
		},
	})
}

func run(ctx context.Context, app *cli.App) {
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
