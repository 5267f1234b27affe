// Package runtime assembles command-line applications from fx modules.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lthibault/log"
	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

// StartTimeout and StopTimeout bound application startup and shutdown.
const (
	StartTimeout = 15 * time.Second
	StopTimeout  = 15 * time.Second
)

// New application bound to the cli context.  Modules are supplied by the
// caller; the system module is always included.
func New(c *cli.Context, modules ...fx.Option) *fx.App {
	return fx.New(fx.NopLogger,
		fx.Supply(c),
		system,
		fx.Options(modules...),
		fx.Invoke(bind))
}

// Serve runs an application until the cli context expires.
func Serve(c *cli.Context, modules ...fx.Option) error {
	app := New(c, modules...)
	if err := Start(c, app); err != nil {
		return err
	}

	<-c.Context.Done()

	return Stop(app)
}

// Start the application.
func Start(c *cli.Context, app *fx.App) error {
	ctx, cancel := context.WithTimeout(c.Context, StartTimeout)
	defer cancel()

	return app.Start(ctx)
}

// Stop the application.
func Stop(app *fx.App) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()

	if err = app.Stop(ctx); err == context.Canceled {
		err = nil
	}

	return
}

// Config declares dependencies that are dynamically resolved at
// runtime.
type Config struct {
	fx.In

	Lifecycle fx.Lifecycle

	Logger     log.Logger
	Supervisor *suture.Supervisor
	Services   []suture.Service `group:"services"`
}

func bind(c *cli.Context, config Config) {
	ctx, cancel := context.WithCancel(c.Context) // cancelled by stop hook

	for _, service := range config.Services {
		config.Supervisor.Add(service)
	}

	var cherr <-chan error

	config.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cherr = config.Supervisor.ServeBackground(ctx)
			config.Logger.Debug("runtime started")
			return nil
		},
		OnStop: func(stop context.Context) (err error) {
			cancel()

			// Wait for the supervisor to shut down gracefully.
			select {
			case err = <-cherr:
				if errors.Is(err, context.Canceled) {
					err = nil
				}

				return err

			case <-stop.Done():
				return fmt.Errorf("shutdown: %w", stop.Err())
			}
		},
	})
}

func closer(c io.Closer) fx.Hook {
	return fx.Hook{
		OnStop: onclose(c),
	}
}

func onclose(c io.Closer) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}
