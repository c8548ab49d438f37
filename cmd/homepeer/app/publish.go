package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app/options"
	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/pkg/app"
	"github.com/autopeer-io/homepeer/pkg/log"
)

func newPublishApp() *app.App {
	opts := options.NewPublishOptions()
	return app.NewApp(
		"publish",
		"Send one device command",
		app.WithDescription("Publishes a single command on the command topic without going through the model, e.g. homepeer publish --type light --action 开 --device 客厅灯."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func(ctx context.Context, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			t, err := cfg.NewTransport(ctx, "publisher")
			if err != nil {
				return err
			}
			defer func() {
				if err := t.Close(); err != nil {
					log.Error(err, "Failed to close transport")
				}
			}()

			cmd := opts.Command()
			cmd.Timestamp = time.Now()
			d := dispatch.New(t.Publisher, cfg.Topics().Command())
			if err := d.Dispatch(ctx, cmd); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "已发送: %s (%s -> %s)\n", cmd.Message(), d.Transport(), d.Topic())
			return nil
		}),
	)
}
