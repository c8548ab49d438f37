package homepeer

import (
	"context"

	"github.com/autopeer-io/homepeer/internal/assistant"
	"github.com/autopeer-io/homepeer/internal/assistant/clarify"
	"github.com/autopeer-io/homepeer/internal/assistant/extractor"
	"github.com/autopeer-io/homepeer/internal/assistant/history"
	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/internal/home"
	"github.com/autopeer-io/homepeer/internal/model"
)

// Runtime is a wired assistant with the components around it.
type Runtime struct {
	Assistant  *assistant.Assistant
	Tracker    *home.Tracker
	Dispatcher *dispatch.Dispatcher
	Transport  *Transport
}

// NewRuntime connects the transport and wires the assistant on top of it.
func (cfg *Config) NewRuntime(ctx context.Context, role string) (*Runtime, error) {
	gen, err := InitializeGenerator(cfg.ModelOptions)
	if err != nil {
		return nil, err
	}

	t, err := cfg.NewTransport(ctx, role)
	if err != nil {
		return nil, err
	}

	rt := cfg.newRuntime(gen, t)
	return rt, nil
}

func (cfg *Config) newRuntime(gen model.Generator, t *Transport) *Runtime {
	tracker := home.NewTracker()
	d := dispatch.New(t.Publisher, cfg.Topics().Command(), dispatch.WithObserver(tracker.Apply))

	timeout := cfg.ModelOptions.Timeout
	opts := []assistant.Option{
		assistant.WithTracker(tracker),
		assistant.WithHistory(history.New(cfg.HistorySize)),
	}
	if cfg.ModelOptions.AnalyzeIntent {
		opts = append(opts, assistant.WithIntentAnalysis(model.Timed("chat", gen)))
	}

	a := assistant.New(
		extractor.New(model.Timed("recognize", gen), extractor.WithTimeout(timeout)),
		clarify.NewResolver(model.Timed("question", gen), clarify.WithTimeout(timeout)),
		d,
		opts...,
	)

	return &Runtime{
		Assistant:  a,
		Tracker:    tracker,
		Dispatcher: d,
		Transport:  t,
	}
}

// Close releases the transport.
func (rt *Runtime) Close() error {
	return rt.Transport.Close()
}
