// Package dispatch sends resolved device commands to the devices, either
// through the local file broker or an MQTT broker.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
)

// Dispatcher publishes commands on the command topic.
type Dispatcher struct {
	pub       Publisher
	topic     string
	observers []func(command.Command)
	logger    log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver registers fn to run after each successfully published command.
func WithObserver(fn func(command.Command)) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, fn) }
}

// New returns a Dispatcher publishing to topic through pub.
func New(pub Publisher, topic string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pub:    pub,
		topic:  topic,
		logger: log.WithName("dispatch").WithValues("transport", pub.Transport(), "topic", topic),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transport returns the name of the transport in use.
func (d *Dispatcher) Transport() string { return d.pub.Transport() }

// Topic returns the command topic.
func (d *Dispatcher) Topic() string { return d.topic }

// CommandError reports one command that could not be published.
type CommandError struct {
	Command command.Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// FailedCommands returns the commands of every CommandError in err, in
// dispatch order.
func FailedCommands(err error) []command.Command {
	var out []command.Command
	var walk func(error)
	walk = func(err error) {
		var ce *CommandError
		switch x := err.(type) {
		case nil:
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				walk(e)
			}
		default:
			if errors.As(err, &ce) {
				out = append(out, ce.Command)
			}
		}
	}
	walk(err)
	return out
}

// Dispatch publishes every command in order. A failed command does not stop
// the remaining ones; each failure is returned as a *CommandError, joined.
func (d *Dispatcher) Dispatch(ctx context.Context, cmds ...command.Command) error {
	var errs []error
	for _, cmd := range cmds {
		if err := d.dispatch(ctx, cmd); err != nil {
			errs = append(errs, &CommandError{Command: cmd, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Command) error {
	transport := d.pub.Transport()

	if err := cmd.Validate(); err != nil {
		metrics.CommandDispatchedTotal.WithLabelValues(transport, "invalid", string(cmd.Type)).Inc()
		return err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		metrics.CommandDispatchedTotal.WithLabelValues(transport, "failed", string(cmd.Type)).Inc()
		return err
	}

	if err := d.pub.Publish(ctx, d.topic, payload); err != nil {
		metrics.CommandDispatchedTotal.WithLabelValues(transport, "failed", string(cmd.Type)).Inc()
		d.logger.Error(err, "Failed to publish command", "command", cmd.String())
		return err
	}

	metrics.CommandDispatchedTotal.WithLabelValues(transport, "success", string(cmd.Type)).Inc()
	d.logger.Info("Command dispatched", "command", cmd.String())

	for _, fn := range d.observers {
		fn(cmd)
	}
	return nil
}
