package runtime

import (
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p-kad-dht/dual"
	"github.com/libp2p/go-libp2p/core/host"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/wetware/rpcpool/util/proto"
)

type routingConfig struct {
	fx.In

	CLI       *cli.Context
	Host      host.Host
	Lifecycle fx.Lifecycle
}

func (config routingConfig) Namespace() string {
	return config.CLI.String("ns")
}

func (config routingConfig) LANOpt() []dht.Option {
	return []dht.Option{
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(proto.Root(config.Namespace())),
		dht.ProtocolExtension("lan")}
}

func (config routingConfig) WANOpt() []dht.Option {
	return []dht.Option{
		dht.Mode(dht.ModeAuto),
		dht.ProtocolPrefix(proto.Root(config.Namespace())),
		dht.ProtocolExtension("wan")}
}

// routedHost resolves the addresses of unknown peers through the DHT when
// --dht is set.
func routedHost(config routingConfig) (host.Host, error) {
	if !config.CLI.Bool("dht") {
		return config.Host, nil
	}

	d, err := dual.New(config.CLI.Context, config.Host,
		dual.LanDHTOption(config.LANOpt()...),
		dual.WanDHTOption(config.WANOpt()...))
	if err != nil {
		return nil, err
	}

	config.Lifecycle.Append(fx.Hook{
		OnStart: d.Bootstrap,
		OnStop:  onclose(d),
	})

	return routedhost.Wrap(config.Host, d), nil
}
