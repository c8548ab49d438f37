// Package extractor turns an utterance into a Resolution by prompting the
// language model and parsing its reply defensively.
package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/autopeer-io/homepeer/internal/assistant/resolution"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/log"
)

// DefaultTimeout bounds a single recognition round trip.
const DefaultTimeout = 180 * time.Second

// Extractor is the command extractor.
type Extractor struct {
	gen     model.Generator
	timeout time.Duration
	now     func() time.Time
	logger  log.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout overrides the per-request deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithClock overrides the clock used to stamp commands.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New returns an Extractor backed by gen.
func New(gen model.Generator, opts ...Option) *Extractor {
	e := &Extractor{
		gen:     gen,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  log.WithName("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recognize interprets utterance without conversation context.
func (e *Extractor) Recognize(ctx context.Context, utterance string) (resolution.Resolution, error) {
	return e.RecognizeWith(ctx, utterance, PromptContext{})
}

// RecognizeWith interprets utterance with the given prompt context.
//
// Model transport failures are returned as model.ErrTimeout or
// model.ErrUnavailable. A reply that cannot be parsed or validated is not an
// error: it degrades to None.
func (e *Extractor) RecognizeWith(ctx context.Context, utterance string, pc PromptContext) (resolution.Resolution, error) {
	if strings.TrimSpace(utterance) == "" {
		metrics.RecognitionTotal.WithLabelValues(resolution.KindNone.String()).Inc()
		return resolution.None(), nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	reply, err := e.gen.Generate(ctx, BuildPrompt(utterance, pc))
	if err != nil {
		metrics.RecognitionTotal.WithLabelValues("error").Inc()
		e.logger.Error(err, "Model request failed", "utterance", utterance)
		return resolution.None(), err
	}

	res, dropped, err := ParseReply(reply, e.now())
	if err != nil {
		metrics.MalformedReplyTotal.Inc()
		e.logger.Warn("Model reply not parseable, treating as no command", "reply", reply, "error", err)
	}
	for _, d := range dropped {
		e.logger.Warn("Dropped invalid entry from model reply", "error", d)
	}

	metrics.RecognitionTotal.WithLabelValues(res.Kind().String()).Inc()
	e.logger.Debug("Utterance recognized", "utterance", utterance, "resolution", res.Kind().String())

	return res, nil
}
