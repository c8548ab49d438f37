package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app/options"
	"github.com/autopeer-io/homepeer/internal/assistant"
	"github.com/autopeer-io/homepeer/pkg/app"
	"github.com/autopeer-io/homepeer/pkg/log"
)

const chatBanner = `============================================================
智能家居助手
============================================================
支持的指令类型：
  - 开关灯（开灯/关灯）
  - 开关空调（开空调/关空调）
  - 开关窗户（开窗/关窗）
  - 温度检测（查询温度/检测温度）

提示：输入 'quit' 或 'exit' 退出程序
============================================================
`

var quitWords = []string{"quit", "exit", "退出"}

func newChatApp() *app.App {
	opts := options.NewChatOptions()
	return app.NewApp(
		"chat",
		"Talk to the assistant on the terminal",
		app.WithDescription("Reads one message per line from stdin and prints the assistant's replies. A clarification question stays open until the next line answers it."),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func(ctx context.Context, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			rt, err := cfg.NewRuntime(ctx, "chat")
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Error(err, "Failed to close transport")
				}
			}()

			log.Info("Commands are published", "transport", rt.Dispatcher.Transport(), "topic", rt.Dispatcher.Topic())
			return runChat(ctx, rt.Assistant, os.Stdin, os.Stdout)
		}),
	)
}

// chatter is the part of the assistant the REPL needs.
type chatter interface {
	Handle(ctx context.Context, req assistant.Request) (assistant.Reply, error)
}

// runChat reads lines from in until EOF, a quit word or ctx is done.
func runChat(ctx context.Context, a chatter, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprint(out, chatBanner)
	for {
		fmt.Fprint(out, "\n请输入指令: ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\n程序退出")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out, "\n程序退出")
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		if isQuit(line) {
			fmt.Fprintln(out, "程序退出")
			return nil
		}
		if line == "" {
			fmt.Fprintln(out, assistant.TextEmpty)
			continue
		}

		reply, err := a.Handle(ctx, assistant.Request{Message: line})
		if err != nil {
			log.Debug("Message failed", "error", err)
		}
		printReply(out, reply)
	}
}

func isQuit(line string) bool {
	for _, w := range quitWords {
		if strings.EqualFold(line, w) {
			return true
		}
	}
	return false
}

func printReply(out io.Writer, reply assistant.Reply) {
	switch reply.Kind {
	case assistant.ReplySuccess:
		fmt.Fprintf(out, "✓ %s\n", reply.Text)
		for _, c := range reply.Commands {
			fmt.Fprintf(out, "  - %s\n", c.Message())
		}
	case assistant.ReplyQuestion:
		fmt.Fprintf(out, "? %s\n", reply.Text)
		for i, c := range reply.Candidates {
			fmt.Fprintf(out, "  %d. %s\n", i+1, c.Describe())
		}
	case assistant.ReplyError:
		fmt.Fprintf(out, "✗ %s\n", reply.Text)
	default:
		if reply.Text != "" {
			fmt.Fprintln(out, reply.Text)
		}
	}
}
