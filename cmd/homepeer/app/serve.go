package app

import (
	"context"
	"fmt"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app/options"
	"github.com/autopeer-io/homepeer/pkg/app"
	"github.com/autopeer-io/homepeer/pkg/log"
)

func newServeApp() *app.App {
	opts := options.NewServeOptions()
	return app.NewApp(
		"serve",
		"Serve the assistant over HTTP",
		app.WithDescription("Serves /api/chat, /api/state and /api/control together with health checks and Prometheus metrics."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func(ctx context.Context, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			srv, err := cfg.NewServer(ctx)
			if err != nil {
				return err
			}

			log.Info("Starting homepeer server", "addr", cfg.HttpOptions.Addr)
			return srv.Run(ctx)
		}),
	)
}
