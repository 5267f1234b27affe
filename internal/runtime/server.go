package runtime

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/lthibault/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/wetware/rpcpool/capability"
	"github.com/wetware/rpcpool/rpc"
)

// Server provides an RPC server that answers the supplied services on the
// local host.  If --secret is set, each service requires a capability.
func Server(services ...*rpc.Service) fx.Option {
	return fx.Module("server",
		Network(),
		fx.Supply(services),
		fx.Provide(newServer),
		fx.Invoke(bindServer))
}

func newServer(c *cli.Context, log log.Logger, services []*rpc.Service) (*rpc.Server, error) {
	srv := &rpc.Server{Log: log}
	cap := Capability(c)

	for _, svc := range services {
		if cap != nil {
			cap.Bind(svc)
		}

		if err := srv.Register(svc); err != nil {
			return nil, err
		}
	}

	return srv, nil
}

func bindServer(h host.Host, srv *rpc.Server, services []*rpc.Service, log log.Logger, lx fx.Lifecycle) {
	var release func()

	lx.Append(fx.Hook{
		OnStart: func(context.Context) error {
			release = srv.Bind(h, protocols(services)...)
			log.WithField("services", len(services)).Info("serving")
			return nil
		},
		OnStop: func(context.Context) error {
			release()
			return srv.Close()
		},
	})
}

func protocols(services []*rpc.Service) []string {
	seen := make(map[string]struct{})
	var names []string

	for _, svc := range services {
		if _, ok := seen[svc.Protocol]; !ok {
			seen[svc.Protocol] = struct{}{}
			names = append(names, svc.Protocol)
		}
	}

	return names
}

// Capability from the --namespace and --secret flags, or nil if --secret
// is not set.
func Capability(c *cli.Context) *capability.Capability {
	if !c.IsSet("secret") {
		return nil
	}

	return &capability.Capability{
		Namespace: []byte(c.String("namespace")),
		Secret:    []byte(c.String("secret")),
	}
}
