package call

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/lthibault/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/wetware/rpcpool/client"
	"github.com/wetware/rpcpool/internal/cmd/flags"
	"github.com/wetware/rpcpool/internal/runtime"
)

var callFlags = append([]cli.Flag{
	&cli.StringSliceFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "host listen address",
		EnvVars: []string{"RPCPOOL_LISTEN"},
	},
	&cli.PathFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "load pool settings from YAML `file`",
		EnvVars: []string{"RPCPOOL_CONFIG"},
	},
	&cli.PathFlag{
		Name:  "key",
		Usage: "present the identity in `path` to the remote peer",
	},
	&cli.StringFlag{
		Name:    "protocol",
		Aliases: []string{"p"},
		Usage:   "sub-protocol `name` of the remote service",
	},
	&cli.StringFlag{
		Name:  "id",
		Usage: "hex-encoded `id` of the remote service",
	},
	&cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "request timeout",
		Value:   client.DefaultTimeout,
	},
	&cli.IntFlag{
		Name:  "n",
		Usage: "send `N` concurrent requests and print statistics",
		Value: 1,
	},
}, flags.Network()...)

// Command returns the `call` command.
func Command() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "send a request to a remote service",
		ArgsUsage: "<peer> <method> [payload]",
		Description: `Peer is either a p2p multiaddr, or an identity accepted by the pool:
a peer ID, or a hex-encoded Ed25519 public key.`,
		Flags:  append(callFlags, flags.Capability()...),
		Action: call,
	}
}

func call(c *cli.Context) error {
	if c.NArg() < 2 {
		return cli.ShowSubcommandHelp(c)
	}

	var (
		h    host.Host
		pool *client.Pool
		log  log.Logger
	)

	app := runtime.New(c, runtime.Client(), fx.Populate(&h, &pool, &log))
	if err := runtime.Start(c, app); err != nil {
		return err
	}
	defer runtime.Stop(app)

	target, err := resolve(h, c.Args().First())
	if err != nil {
		return err
	}

	opt, err := callOptions(c)
	if err != nil {
		return err
	}

	req := request{
		Pool:    pool,
		Target:  target,
		Method:  c.Args().Get(1),
		Payload: c.Args().Get(2),
		Options: opt,
	}

	if n := c.Int("n"); n > 1 {
		return stress(c, req, n, log)
	}

	res, err := req.Do(c.Context)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(c.App.Writer, "%s\n", res)
	return err
}

type request struct {
	Pool    *client.Pool
	Target  any
	Method  string
	Payload string
	Options []client.CallOption
}

func (r request) Do(ctx context.Context) (any, error) {
	return r.Pool.Request(ctx, r.Target, r.Method, []byte(r.Payload), r.Options...)
}

// stress sends n concurrent requests and prints a summary.
func stress(c *cli.Context, req request, n int, log log.Logger) error {
	var (
		failed atomic.Int64
		g      errgroup.Group
		t0     = time.Now()
	)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if _, err := req.Do(c.Context); err != nil {
				failed.Inc()
				log.WithError(err).Debug("request failed")
			}

			return nil
		})
	}
	g.Wait()

	out, err := yaml.Marshal(summary{
		Requests: n,
		Failed:   failed.Load(),
		Elapsed:  time.Since(t0).String(),
		Stats:    req.Pool.Stats().Snapshot(),
	})
	if err != nil {
		return err
	}

	_, err = c.App.Writer.Write(out)
	return err
}

type summary struct {
	Requests int             `yaml:"requests"`
	Failed   int64           `yaml:"failed"`
	Elapsed  string          `yaml:"elapsed"`
	Stats    client.Snapshot `yaml:"stats"`
}

func callOptions(c *cli.Context) ([]client.CallOption, error) {
	opt := []client.CallOption{
		client.CallTimeout(c.Duration("timeout")),
		client.CallProtocol(c.String("protocol")),
	}

	if c.IsSet("id") {
		id, err := hex.DecodeString(c.String("id"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid id")
		}

		opt = append(opt, client.CallID(id))
	}

	return opt, nil
}

// resolve a target argument.  Multiaddrs are added to the peerstore, and
// their peer ID returned; anything else is passed to the pool as is.
func resolve(h host.Host, target string) (any, error) {
	if !strings.HasPrefix(target, "/") {
		return target, nil
	}

	infos, err := runtime.ParseAddrs(target)
	if err != nil {
		return nil, errors.Wrap(err, "invalid multiaddr")
	}

	info := infos[0]
	h.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return info.ID, nil
}
