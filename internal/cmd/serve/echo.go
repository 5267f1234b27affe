package serve

import (
	"context"
	"time"

	"github.com/wetware/rpcpool/rpc"
)

// Echo returns a diagnostic service with the following methods:
//
//	echo   returns its argument
//	sleep  waits for the duration in its argument, then returns it
//	time   returns the local time
//	id     returns the service's id
func Echo(protocol string, id []byte) *rpc.Service {
	svc := &rpc.Service{Protocol: protocol, ID: id}

	svc.Respond("echo", rpc.Method{
		Handler: func(_ context.Context, req any) (any, error) {
			return req, nil
		},
	})

	svc.Respond("sleep", rpc.Method{
		Request:  rpc.String,
		Response: rpc.String,
		Handler: func(ctx context.Context, req any) (any, error) {
			d, err := time.ParseDuration(req.(string))
			if err != nil {
				return nil, err
			}

			select {
			case <-time.After(d):
				return d.String(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	svc.Respond("time", rpc.Method{
		Request:  rpc.None,
		Response: rpc.String,
		Handler: func(context.Context, any) (any, error) {
			return time.Now().Format(time.RFC3339Nano), nil
		},
	})

	svc.Respond("id", rpc.Method{
		Request: rpc.None,
		Handler: func(context.Context, any) (any, error) {
			return id, nil
		},
	})

	return svc
}
