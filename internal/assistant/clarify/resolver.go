// Package clarify resolves an ambiguous request with a single follow-up
// question and the user's free-text answer.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/homepeer/internal/pkg/util/fsm"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
)

const (
	StateIdle     = "idle"
	StateAwaiting = "awaiting_reply"
	StateResolved = "resolved"
)

const (
	// EventAsk opens a clarification for a new set of candidates.
	EventAsk = "ask"
	// EventResolve closes it with at least one selected candidate.
	EventResolve = "resolve"
	// EventReject closes it without a selection.
	EventReject = "reject"
)

var (
	// ErrUnresolved is returned when the reply selected none of the candidates.
	ErrUnresolved = errors.New("clarification reply matched no candidate")

	// ErrNotAwaiting is returned by Answer when no question is pending.
	ErrNotAwaiting = errors.New("no clarification pending")

	// ErrNoCandidates is returned when a clarification is opened without candidates.
	ErrNoCandidates = errors.New("clarification requires at least one candidate")
)

// Context is the state carried between the question and its single reply.
type Context struct {
	Utterance  string
	Candidates []command.PotentialCommand
}

// Resolver drives one clarification at a time.
type Resolver struct {
	mu      sync.Mutex
	fsm     *fsm.FSM
	pending *Context

	gen     model.Generator
	timeout time.Duration
	now     func() time.Time
	logger  log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithClock overrides the clock used to stamp resolved commands.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver returns an idle Resolver. gen may be nil, in which case
// questions are composed locally and replies are matched by keywords only.
func NewResolver(gen model.Generator, opts ...Option) *Resolver {
	r := &Resolver{
		gen:     gen,
		timeout: 180 * time.Second,
		now:     time.Now,
		logger:  log.WithName("clarify"),
	}
	for _, opt := range opts {
		opt(r)
	}

	events := fsm.Events{
		{Name: EventAsk, Src: []string{StateIdle, StateResolved}, Dst: StateAwaiting},
		{Name: EventResolve, Src: []string{StateAwaiting}, Dst: StateResolved},
		{Name: EventReject, Src: []string{StateAwaiting}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventAsk:     fsmutil.WrapEvent(r.guardCandidates),
		"enter_" + StateAwaiting: fsmutil.WrapEvent(r.actionHold),
		"leave_" + StateAwaiting: fsmutil.WrapEvent(r.actionDiscard),
	}

	r.fsm = fsm.NewFSM(StateIdle, events, callbacks)
	return r
}

func (r *Resolver) guardCandidates(ctx context.Context, e *fsm.Event) error {
	c, ok := e.Args[0].(*Context)
	if !ok || len(c.Candidates) == 0 {
		e.Cancel(ErrNoCandidates)
	}
	return nil
}

func (r *Resolver) actionHold(ctx context.Context, e *fsm.Event) error {
	r.pending = e.Args[0].(*Context)
	return nil
}

func (r *Resolver) actionDiscard(ctx context.Context, e *fsm.Event) error {
	r.pending = nil
	return nil
}

// Begin opens a clarification and returns the question to ask. Question
// generation failures fall back to a locally composed question.
func (r *Resolver) Begin(ctx context.Context, utterance string, candidates []command.PotentialCommand) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	question := r.GenerateQuestion(ctx, utterance, candidates)
	if err := r.open(ctx, utterance, candidates); err != nil {
		return "", err
	}
	return question, nil
}

// Restore reopens a clarification whose question was asked elsewhere, such
// as by a stateless HTTP client that echoes the candidates back.
func (r *Resolver) Restore(ctx context.Context, utterance string, candidates []command.PotentialCommand) error {
	return r.open(ctx, utterance, candidates)
}

func (r *Resolver) open(ctx context.Context, utterance string, candidates []command.PotentialCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fsm.Current() == StateAwaiting {
		// A newer ambiguity supersedes the unanswered one.
		if err := r.fsm.Event(ctx, EventReject); fsmutil.IsRealError(err) {
			return err
		}
	}

	c := &Context{Utterance: utterance, Candidates: slices.Clone(candidates)}
	err := r.fsm.Event(ctx, EventAsk, c)
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}
	if fsmutil.IsRealError(err) {
		return fmt.Errorf("open clarification: %w", err)
	}
	return nil
}

// Answer interprets the user's reply to the pending question. Replies the
// keyword matcher cannot place, and that are not refusals, are passed to the
// model. The clarification is closed whatever the outcome.
func (r *Resolver) Answer(ctx context.Context, reply string) ([]command.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fsm.Current() != StateAwaiting || r.pending == nil {
		return nil, ErrNotAwaiting
	}

	pending := r.pending
	cmds, declined := matchReply(reply, pending.Candidates, r.now())
	if len(cmds) == 0 && !declined && r.gen != nil {
		cmds = r.answerWithModel(ctx, reply, pending.Candidates)
	}

	event, outcome := EventResolve, "resolved"
	if len(cmds) == 0 {
		event, outcome = EventReject, "unresolved"
	}
	if err := r.fsm.Event(ctx, event); fsmutil.IsRealError(err) {
		return nil, err
	}
	metrics.ClarificationTotal.WithLabelValues(outcome).Inc()

	if len(cmds) == 0 {
		r.logger.Info("Clarification reply matched nothing", "utterance", pending.Utterance, "reply", reply)
		return nil, fmt.Errorf("%w: %q", ErrUnresolved, reply)
	}

	r.logger.Info("Clarification resolved", "utterance", pending.Utterance, "reply", reply, "commands", len(cmds))
	return cmds, nil
}

// Cancel drops a pending clarification, if any.
func (r *Resolver) Cancel(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fsm.Current() == StateAwaiting {
		_ = r.fsm.Event(ctx, EventReject)
	}
}

// State returns the current state name.
func (r *Resolver) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fsm.Current()
}

// Pending returns a copy of the open clarification, if any.
func (r *Resolver) Pending() (Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return Context{}, false
	}
	return Context{Utterance: r.pending.Utterance, Candidates: slices.Clone(r.pending.Candidates)}, true
}

// GenerateQuestion asks the model for a clarification question, falling back
// to FallbackQuestion when the model fails or answers with nothing.
func (r *Resolver) GenerateQuestion(ctx context.Context, utterance string, candidates []command.PotentialCommand) string {
	if r.gen == nil {
		return FallbackQuestion(candidates)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	q, err := r.gen.Generate(ctx, BuildQuestionPrompt(utterance, candidates))
	if err != nil {
		r.logger.Error(err, "Question generation failed, using fallback", "utterance", utterance)
		return FallbackQuestion(candidates)
	}
	if q = cleanQuestion(q); q == "" {
		r.logger.Warn("Model returned an empty question, using fallback", "utterance", utterance)
		return FallbackQuestion(candidates)
	}
	return q
}
