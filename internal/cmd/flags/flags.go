// Package flags declares command-line flags shared by several commands.
package flags

import "github.com/urfave/cli/v2"

// Network flags configure the local host and peer routing.
func Network() []cli.Flag {
	return []cli.Flag{
		&cli.PathFlag{
			Name:    "identity",
			Usage:   "load host identity from `path` (see keygen)",
			EnvVars: []string{"RPCPOOL_IDENTITY"},
		},
		&cli.StringSliceFlag{
			Name:    "peer",
			Usage:   "connect to p2p `multiaddr` on startup",
			EnvVars: []string{"RPCPOOL_PEER"},
		},
		&cli.BoolFlag{
			Name:    "dht",
			Usage:   "route to unknown peers through the DHT",
			EnvVars: []string{"RPCPOOL_DHT"},
		},
		&cli.StringFlag{
			Name:    "ns",
			Usage:   "DHT `namespace`",
			Value:   "rpcpool",
			EnvVars: []string{"RPCPOOL_NS"},
		},
	}
}

// Capability flags configure the proof exchanged on each channel.
func Capability() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "namespace",
			Usage:   "capability `namespace`",
			EnvVars: []string{"RPCPOOL_NAMESPACE"},
		},
		&cli.StringFlag{
			Name:    "secret",
			Usage:   "require a capability derived from `secret`",
			EnvVars: []string{"RPCPOOL_SECRET"},
		},
	}
}
