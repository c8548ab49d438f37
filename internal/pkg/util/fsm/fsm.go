package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback. A returned
// error is stored on the event and surfaces from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRealError reports whether err from FSM.Event is an actual failure rather
// than a skipped or guarded transition.
func IsRealError(err error) bool {
	if err == nil {
		return false
	}

	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError

	if errors.As(err, &noTransition) || errors.As(err, &canceled) {
		return false
	}

	return true
}
