// Package assistant runs one dialogue: it recognises device commands in user
// messages, asks a clarification question when the request is only implied,
// and dispatches the resulting commands.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/autopeer-io/homepeer/internal/assistant/clarify"
	"github.com/autopeer-io/homepeer/internal/assistant/extractor"
	"github.com/autopeer-io/homepeer/internal/assistant/history"
	"github.com/autopeer-io/homepeer/internal/assistant/resolution"
	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/internal/home"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
)

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("message must not be empty")

// ReplyKind classifies a Reply.
type ReplyKind string

const (
	// ReplySuccess means commands were dispatched.
	ReplySuccess ReplyKind = "success"
	// ReplyQuestion means a clarification question was asked; Candidates
	// holds the options to echo back with the answer.
	ReplyQuestion ReplyKind = "question"
	// ReplyNone means no device request was found.
	ReplyNone ReplyKind = "none"
	// ReplyChat is a conversational answer to small talk.
	ReplyChat ReplyKind = "chat"
	// ReplyError means the request failed; Text is safe to show the user.
	ReplyError ReplyKind = "error"
)

// Reply texts.
const (
	TextEmpty        = "输入不能为空"
	TextNoCommand    = "未识别到智能家居相关指令"
	TextModelFailure = "抱歉，模型服务暂时不可用，请稍后再试。"
	TextSendFailure  = "指令发送失败"
	TextChatFailure  = "抱歉，我没听清，请再说一遍。"
)

// Request is one user message. Candidates, when set, are the options of a
// question asked earlier and mark the message as its answer.
type Request struct {
	Message    string
	Candidates []command.PotentialCommand
}

// Reply is the assistant's answer to a Request.
type Reply struct {
	Kind       ReplyKind
	Text       string
	Commands   []command.Command
	Candidates []command.PotentialCommand
}

// Dispatcher sends commands to the devices.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmds ...command.Command) error
}

// Assistant serialises Handle calls; it holds one conversation.
type Assistant struct {
	mu sync.Mutex

	extractor  *extractor.Extractor
	resolver   *clarify.Resolver
	dispatcher Dispatcher
	history    *history.History
	tracker    *home.Tracker

	chat          model.Generator
	analyzeIntent bool

	logger log.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithHistory shares a conversation history.
func WithHistory(h *history.History) Option {
	return func(a *Assistant) { a.history = h }
}

// WithTracker shares a device state tracker.
func WithTracker(t *home.Tracker) Option {
	return func(a *Assistant) { a.tracker = t }
}

// WithIntentAnalysis classifies each new message before recognition and
// answers small talk with gen. A nil gen disables chat replies.
func WithIntentAnalysis(gen model.Generator) Option {
	return func(a *Assistant) {
		a.analyzeIntent = true
		a.chat = gen
	}
}

// New wires an Assistant.
func New(ext *extractor.Extractor, res *clarify.Resolver, d Dispatcher, opts ...Option) *Assistant {
	a := &Assistant{
		extractor:  ext,
		resolver:   res,
		dispatcher: d,
		logger:     log.WithName("assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = history.New(history.DefaultMaxTurns)
	}
	if a.tracker == nil {
		a.tracker = home.NewTracker()
	}
	return a
}

// History returns the conversation history.
func (a *Assistant) History() *history.History { return a.history }

// Tracker returns the device state tracker.
func (a *Assistant) Tracker() *home.Tracker { return a.tracker }

// Pending returns the open clarification, if any.
func (a *Assistant) Pending() (clarify.Context, bool) { return a.resolver.Pending() }

// Handle processes one message. The returned error is non-nil only when the
// reply is of kind ReplyError.
func (a *Assistant) Handle(ctx context.Context, req Request) (Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Reply{Kind: ReplyError, Text: TextEmpty}, ErrEmptyMessage
	}

	a.history.Add(history.RoleUser, msg)

	resolved, ok := a.history.ResolvePronouns(msg, a.tracker.LastOperated)
	if ok {
		a.logger.Info("Resolved pronoun", "message", msg, "resolved", resolved)
	}

	if len(req.Candidates) > 0 {
		if err := a.resolver.Restore(ctx, msg, req.Candidates); err != nil {
			return a.fail(fmt.Errorf("restore clarification: %w", err), TextNoCommand)
		}
	}
	if _, pending := a.resolver.Pending(); pending {
		return a.answer(ctx, resolved)
	}

	return a.recognize(ctx, msg, resolved)
}

func (a *Assistant) answer(ctx context.Context, reply string) (Reply, error) {
	pending, _ := a.resolver.Pending()

	cmds, err := a.resolver.Answer(ctx, reply)
	if errors.Is(err, clarify.ErrUnresolved) {
		text := "抱歉，我没有理解您的选择。可选操作：" + describe(pending.Candidates)
		a.history.Add(history.RoleAssistant, text)
		return Reply{Kind: ReplyNone, Text: text}, nil
	}
	if err != nil {
		return a.fail(err, TextNoCommand)
	}

	return a.execute(ctx, cmds)
}

func (a *Assistant) recognize(ctx context.Context, original, text string) (Reply, error) {
	if a.analyzeIntent {
		intent, err := a.extractor.AnalyzeIntent(ctx, text, a.history.Context())
		if err != nil {
			a.logger.Warn("Intent analysis failed, treating message as a command", "error", err)
		}
		switch intent.Intent {
		case extractor.IntentIgnore:
			a.logger.Debug("Ignoring message", "message", original, "reason", intent.Reason)
			return Reply{Kind: ReplyNone}, nil
		case extractor.IntentChat:
			return a.chatReply(ctx, text)
		}
		text = intent.CorrectedText
	}

	res, err := a.extractor.RecognizeWith(ctx, text, extractor.PromptContext{
		History:      a.history.Context(),
		DeviceStates: a.tracker.Summary(),
	})
	if err != nil {
		return a.fail(err, TextModelFailure)
	}

	switch res.Kind() {
	case resolution.KindDirect:
		return a.execute(ctx, res.Commands())

	case resolution.KindAmbiguous:
		cands := res.Candidates()
		question, err := a.resolver.Begin(ctx, original, cands)
		if err != nil {
			return a.fail(err, TextModelFailure)
		}
		a.history.Add(history.RoleAssistant, question)
		return Reply{Kind: ReplyQuestion, Text: question, Candidates: cands}, nil
	}

	a.history.Add(history.RoleAssistant, TextNoCommand)
	return Reply{Kind: ReplyNone, Text: TextNoCommand}, nil
}

func (a *Assistant) chatReply(ctx context.Context, text string) (Reply, error) {
	if a.chat == nil {
		return Reply{Kind: ReplyNone, Text: TextNoCommand}, nil
	}

	answer, err := a.chat.Generate(ctx, chatPrompt(a.history.Context(), text))
	if answer = strings.TrimSpace(answer); err != nil || answer == "" {
		a.logger.Warn("Chat reply failed", "error", err)
		answer = TextChatFailure
	}
	a.history.Add(history.RoleAssistant, answer)
	return Reply{Kind: ReplyChat, Text: answer}, nil
}

// execute dispatches cmds and reports them as executed.
func (a *Assistant) execute(ctx context.Context, cmds []command.Command) (Reply, error) {
	if err := a.dispatcher.Dispatch(ctx, cmds...); err != nil {
		return a.partial(err, cmds)
	}

	text := "已执行: " + messages(cmds)
	a.history.Add(history.RoleAssistant, text, cmds...)

	return Reply{Kind: ReplySuccess, Text: text, Commands: cmds}, nil
}

// partial reports a dispatch that failed for some commands. Commands that
// were sent are still listed and recorded.
func (a *Assistant) partial(err error, cmds []command.Command) (Reply, error) {
	failed := dispatch.FailedCommands(err)
	var sent []command.Command
	next := 0
	for _, c := range cmds {
		if next < len(failed) && failed[next] == c {
			next++
			continue
		}
		sent = append(sent, c)
	}
	if len(failed) == 0 || len(sent) == 0 {
		return a.fail(err, TextSendFailure)
	}

	a.logger.Error(err, "Some commands could not be sent", "sent", len(sent), "failed", len(failed))
	text := "已执行: " + messages(sent) + "；" + TextSendFailure + ": " + messages(failed)
	a.history.Add(history.RoleAssistant, text, sent...)

	return Reply{Kind: ReplyError, Text: text, Commands: sent}, err
}

func messages(cmds []command.Command) string {
	msgs := make([]string, len(cmds))
	for i, c := range cmds {
		msgs[i] = c.Message()
	}
	return strings.Join(msgs, ", ")
}

func (a *Assistant) fail(err error, text string) (Reply, error) {
	a.logger.Error(err, "Request failed")
	return Reply{Kind: ReplyError, Text: text}, err
}

func describe(cands []command.PotentialCommand) string {
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = strings.TrimRight(c.Describe(), "？?")
	}
	return strings.Join(parts, "；")
}

func chatPrompt(conversation, text string) string {
	return "你是一个智能语音助手，名字叫“小爱”。请以亲切、自然的口语风格回复用户。\n" +
		"避免长篇大论，回复要简短有力。\n\n" +
		"对话历史：\n" + conversation + "\n\n" +
		"用户：" + text + "\n助手："
}
