package app

import (
	"context"
	"fmt"
	"os"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app/options"
	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/simulator"
	"github.com/autopeer-io/homepeer/pkg/app"
	"github.com/autopeer-io/homepeer/pkg/log"
)

func newSimulateApp() *app.App {
	opts := options.NewSimulateOptions()
	return app.NewApp(
		"simulate",
		"Play the devices that receive commands",
		app.WithDescription("Prints every command published on the command topic with the response a device would give, and publishes that response on the feedback topic."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func(ctx context.Context, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			var subOpts []broker.SubscribeOption
			if opts.FromStart {
				subOpts = append(subOpts, broker.FromStart())
			}
			t, err := cfg.NewTransport(ctx, "simulator", subOpts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := t.Close(); err != nil {
					log.Error(err, "Failed to close transport")
				}
			}()

			var simOpts []simulator.Option
			if opts.Feedback {
				simOpts = append(simOpts, simulator.WithFeedback(t.Publisher))
			}
			return simulator.New(os.Stdout, cfg.Topics(), simOpts...).Run(ctx, t.Subscriber)
		}),
	)
}
