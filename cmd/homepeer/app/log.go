package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gosuri/uitable"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app/options"
	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/homepeer"
	"github.com/autopeer-io/homepeer/pkg/app"
)

const payloadWidth = 80

func newLogApp() *app.App {
	opts := options.NewTailOptions()
	return app.NewApp(
		"log",
		"Print the local broker log",
		app.WithDescription("Prints the records of the local broker log as a table. With --follow it keeps printing records as other processes append them."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func(ctx context.Context, args []string) error {
			b, err := homepeer.InitializeBroker(opts.BrokerOptions)
			if err != nil {
				return err
			}
			defer b.Close()

			var subOpts []broker.SubscribeOption
			if opts.FromStart {
				subOpts = append(subOpts, broker.FromStart())
			}
			sub, err := b.Subscribe(opts.Topic, subOpts...)
			if err != nil {
				return err
			}
			defer sub.Close()

			return tail(ctx, sub, os.Stdout, opts.Follow)
		}),
	)
}

// tail prints the records already in the log as one table, then, when
// follow is set, one row per record as it arrives.
func tail(ctx context.Context, sub *broker.Subscription, out io.Writer, follow bool) error {
	table := newTable()
	table.AddRow("SEQ", "TIME", "TOPIC", "PAYLOAD")
	for {
		msg, ok, err := sub.TryNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		addRecord(table, msg)
	}
	fmt.Fprintln(out, table)

	if !follow {
		return nil
	}
	for msg, err := range sub.All(ctx) {
		if err != nil {
			return err
		}
		row := newTable()
		addRecord(row, msg)
		fmt.Fprintln(out, row)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = payloadWidth
	t.Separator = "  "
	return t
}

func addRecord(t *uitable.Table, msg broker.Message) {
	t.AddRow(msg.Seq, msg.Timestamp.Local().Format(time.DateTime), msg.Topic, string(msg.Payload))
}
