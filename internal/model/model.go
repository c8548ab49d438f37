// Package model talks to the language model that interprets utterances.
package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
)

// Generator produces a single, non-streaming completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrTimeout is returned when the model did not answer within the deadline.
	ErrTimeout = errors.New("model request timed out")

	// ErrUnavailable is returned when the model endpoint could not be reached
	// or answered with an error.
	ErrUnavailable = errors.New("model service unavailable")
)

// Error wraps a transport failure with its classification.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify maps a transport error onto ErrTimeout or ErrUnavailable.
// Caller cancellation is returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Op: op, Kind: ErrTimeout, Err: err}
	}
	return &Error{Op: op, Kind: ErrUnavailable, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}

type timed struct {
	op   string
	next Generator
}

// Timed records the latency and outcome of every call made through next.
func Timed(op string, next Generator) Generator {
	return &timed{op: op, next: next}
}

func (t *timed) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := t.next.Generate(ctx, prompt)
	metrics.ModelLatency.WithLabelValues(t.op, outcome(err)).Observe(time.Since(start).Seconds())
	return out, err
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and configures a Generator backend.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// NewGenerator builds the configured backend.
func (c *Config) NewGenerator() (Generator, error) {
	switch c.Provider {
	case ProviderOllama, "":
		return NewOllama(c.BaseURL, c.Model, c.Timeout), nil
	case ProviderOpenAI:
		if c.Model == "" {
			return nil, errors.New("openai provider requires a model name")
		}
		return NewOpenAI(c.BaseURL, c.APIKey, c.Model, c.Timeout), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", c.Provider)
}
