package serve

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/wetware/rpcpool/internal/cmd/flags"
	"github.com/wetware/rpcpool/internal/runtime"
	"github.com/wetware/rpcpool/rpc"
)

var serveFlags = append([]cli.Flag{
	&cli.StringSliceFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "host listen address",
		Value: cli.NewStringSlice(
			"/ip4/0.0.0.0/tcp/2020",
			"/ip4/0.0.0.0/udp/2020/quic-v1"),
		EnvVars: []string{"RPCPOOL_LISTEN"},
	},
	&cli.StringSliceFlag{
		Name:    "protocol",
		Aliases: []string{"p"},
		Usage:   "serve echo on sub-protocol `name`",
		Value:   cli.NewStringSlice(""),
	},
	&cli.StringSliceFlag{
		Name:  "id",
		Usage: "also serve echo under hex-encoded service `id`",
	},
}, flags.Network()...)

// Command returns the `serve` command.
func Command() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "answer requests with a diagnostic echo service",
		Flags:  append(serveFlags, flags.Capability()...),
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	services, err := Services(c.StringSlice("protocol"), c.StringSlice("id"))
	if err != nil {
		return err
	}

	return runtime.Serve(c, runtime.Server(services...))
}

// Services returns an echo service for each combination of protocol and
// id.  The empty id is always included.
func Services(protocols, ids []string) ([]*rpc.Service, error) {
	keys := [][]byte{nil}
	for _, s := range ids {
		id, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid id %q", s)
		}

		keys = append(keys, id)
	}

	if len(protocols) == 0 {
		protocols = []string{""}
	}

	var services []*rpc.Service
	for _, p := range protocols {
		for _, id := range keys {
			services = append(services, Echo(p, id))
		}
	}

	return services, nil
}
