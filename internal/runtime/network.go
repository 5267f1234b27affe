package runtime

import (
	"context"
	"encoding/hex"
	"os"
	"strings"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	quic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/lthibault/log"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

// Network provides the local libp2p host.  If --dht is set, the host is
// wrapped in a routed host backed by a dual DHT.  Decorations are scoped to
// the enclosing module.
func Network() fx.Option {
	return fx.Options(
		fx.Provide(newHost),
		fx.Decorate(routedHost))
}

type hostConfig struct {
	fx.In

	CLI       *cli.Context
	Log       log.Logger
	Lifecycle fx.Lifecycle
}

func (config hostConfig) ListenAddrs() []string {
	return config.CLI.StringSlice("listen")
}

func (config hostConfig) HostOpt() ([]libp2p.Option, error) {
	opt := []libp2p.Option{
		libp2p.NoTransports,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(quic.NewTransport),
	}

	if addrs := config.ListenAddrs(); len(addrs) > 0 {
		opt = append(opt, libp2p.ListenAddrStrings(addrs...))
	} else {
		opt = append(opt, libp2p.NoListenAddrs)
	}

	if config.CLI.IsSet("identity") {
		k, err := ReadKey(config.CLI.Path("identity"))
		if err != nil {
			return nil, errors.Wrap(err, "identity")
		}

		opt = append(opt, libp2p.Identity(k))
	}

	return opt, nil
}

// Peers to connect to on startup.
func (config hostConfig) Peers() ([]peer.AddrInfo, error) {
	return ParseAddrs(config.CLI.StringSlice("peer")...)
}

func newHost(config hostConfig) (host.Host, error) {
	opt, err := config.HostOpt()
	if err != nil {
		return nil, err
	}

	peers, err := config.Peers()
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(opt...)
	if err != nil {
		return nil, err
	}

	config.Log.
		WithField("id", h.ID()).
		WithField("addrs", h.Addrs()).
		Info("host started")

	config.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return connect(ctx, h, peers)
		},
		OnStop: onclose(h),
	})

	return h, nil
}

func connect(ctx context.Context, h host.Host, peers []peer.AddrInfo) error {
	var g errgroup.Group
	for _, info := range peers {
		g.Go(func() error {
			return errors.Wrapf(h.Connect(ctx, info), "connect %s", info.ID)
		})
	}

	return g.Wait()
}

// ParseAddrs parses p2p multiaddrs, merging addresses of the same peer.
func ParseAddrs(addrs ...string) ([]peer.AddrInfo, error) {
	maddrs := make([]ma.Multiaddr, len(addrs))
	for i, s := range addrs {
		var err error
		if maddrs[i], err = ma.NewMultiaddr(s); err != nil {
			return nil, err
		}
	}

	return peer.AddrInfosFromP2pAddrs(maddrs...)
}

// ReadKey reads a hex-encoded private key, as written by the keygen
// command.
func ReadKey(path string) (crypto.PrivKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, err
	}

	return crypto.UnmarshalPrivateKey(raw)
}
