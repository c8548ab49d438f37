package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/homepeer/internal/assistant/clarify"
	"github.com/autopeer-io/homepeer/internal/assistant/extractor"
	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/pkg/command"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	hotReply   = `{"commands": [], "potential": [{"type": "ac", "action": "开", "suggestion": "为您打开空调？"}, {"type": "temperature", "action": "检测", "suggestion": "帮您检测一下室内温度？"}]}`
	lightReply = `{"commands": [{"type": "light", "device": "客厅灯", "action": "开"}], "potential": []}`
	twoReply   = `{"commands": [{"type": "light", "device": "客厅灯", "action": "开"}, {"type": "window", "device": "", "action": "关"}], "potential": []}`
	emptyReply = `{"commands": [], "potential": []}`
)

// scriptedModel answers recognition prompts by utterance and question
// prompts with a fixed question.
type scriptedModel struct {
	mu        sync.Mutex
	recognize map[string]string
	intent    string
	chat      string
	err       error
	prompts   []string
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if m.err != nil {
		return "", m.err
	}
	switch {
	case strings.Contains(prompt, "意图分类"):
		return m.intent, nil
	case strings.Contains(prompt, "请生成一个自然的询问"):
		return "您是想开空调，还是先看看室内温度？", nil
	case strings.Contains(prompt, "助手："):
		return m.chat, nil
	}
	for utterance, reply := range m.recognize {
		if strings.Contains(prompt, "用户输入："+utterance+"\n") {
			return reply, nil
		}
	}
	return emptyReply, nil
}

func (m *scriptedModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

type recordingDispatcher struct {
	err  error
	sent []command.Command
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, cmds ...command.Command) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, cmds...)
	return nil
}

func newAssistant(gen model.Generator, d Dispatcher, opts ...Option) *Assistant {
	clock := func() time.Time { return now }
	return New(
		extractor.New(gen, extractor.WithClock(clock)),
		clarify.NewResolver(gen, clarify.WithClock(clock)),
		d,
		opts...,
	)
}

func TestDirectCommand(t *testing.T) {
	gen := &scriptedModel{recognize: map[string]string{"打开客厅灯": lightReply}}
	d := &recordingDispatcher{}
	a := newAssistant(gen, d)

	reply, err := a.Handle(context.Background(), Request{Message: " 打开客厅灯 "})
	require.NoError(t, err)
	assert.Equal(t, ReplySuccess, reply.Kind)
	assert.Equal(t, "已执行: 打开客厅灯", reply.Text)
	require.Len(t, d.sent, 1)
	assert.Equal(t, command.TypeLight, d.sent[0].Type)
	assert.Equal(t, d.sent, reply.Commands)

	last, ok := a.History().LastDevice()
	require.True(t, ok)
	assert.Equal(t, command.TypeLight, last)
}

func TestClarificationRoundTrip(t *testing.T) {
	gen := &scriptedModel{recognize: map[string]string{"有点热": hotReply}}
	d := &recordingDispatcher{}
	a := newAssistant(gen, d)
	ctx := context.Background()

	reply, err := a.Handle(ctx, Request{Message: "有点热"})
	require.NoError(t, err)
	assert.Equal(t, ReplyQuestion, reply.Kind)
	assert.Equal(t, "您是想开空调，还是先看看室内温度？", reply.Text)
	require.Len(t, reply.Candidates, 2)
	assert.Empty(t, d.sent)

	_, pending := a.Pending()
	require.True(t, pending)

	reply, err = a.Handle(ctx, Request{Message: "开空调顺便测量室温"})
	require.NoError(t, err)
	assert.Equal(t, ReplySuccess, reply.Kind)
	require.Len(t, d.sent, 2)
	assert.Equal(t, command.TypeAC, d.sent[0].Type)
	assert.Equal(t, command.TypeTemperature, d.sent[1].Type)

	_, pending = a.Pending()
	assert.False(t, pending)
}

func TestUnmatchedAnswerListsOptions(t *testing.T) {
	gen := &scriptedModel{recognize: map[string]string{"有点热": hotReply}}
	d := &recordingDispatcher{}
	a := newAssistant(gen, d)
	ctx := context.Background()

	_, err := a.Handle(ctx, Request{Message: "有点热"})
	require.NoError(t, err)

	reply, err := a.Handle(ctx, Request{Message: "不知道"})
	require.NoError(t, err)
	assert.Equal(t, ReplyNone, reply.Kind)
	assert.Contains(t, reply.Text, "为您打开空调")
	assert.Contains(t, reply.Text, "帮您检测一下室内温度")
	assert.Empty(t, d.sent)

	// The clarification is over; the next message is recognised afresh.
	_, pending := a.Pending()
	assert.False(t, pending)
}

func TestAnswerWithEchoedCandidates(t *testing.T) {
	gen := &scriptedModel{}
	d := &recordingDispatcher{}
	a := newAssistant(gen, d)

	cands := []command.PotentialCommand{
		{Type: command.TypeAC, Action: command.ActionOpen, Suggestion: "为您打开空调？"},
		{Type: command.TypeTemperature, Action: command.ActionDetect, Suggestion: "帮您检测一下室内温度？"},
	}
	reply, err := a.Handle(context.Background(), Request{Message: "第二个", Candidates: cands})
	require.NoError(t, err)
	assert.Equal(t, ReplySuccess, reply.Kind)
	require.Len(t, d.sent, 1)
	assert.Equal(t, command.TypeTemperature, d.sent[0].Type)
	assert.Empty(t, gen.prompts, "answers are matched without the model")
}

func TestNoCommand(t *testing.T) {
	a := newAssistant(&scriptedModel{}, &recordingDispatcher{})

	reply, err := a.Handle(context.Background(), Request{Message: "今天星期几"})
	require.NoError(t, err)
	assert.Equal(t, ReplyNone, reply.Kind)
	assert.Equal(t, TextNoCommand, reply.Text)
}

func TestModelFailureIsReported(t *testing.T) {
	gen := &scriptedModel{err: &model.Error{Op: "recognize", Kind: model.ErrTimeout, Err: context.DeadlineExceeded}}
	a := newAssistant(gen, &recordingDispatcher{})

	reply, err := a.Handle(context.Background(), Request{Message: "打开客厅灯"})
	require.ErrorIs(t, err, model.ErrTimeout)
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Equal(t, TextModelFailure, reply.Text)
}

func TestDispatchFailureIsReported(t *testing.T) {
	boom := errors.New("lock timeout")
	gen := &scriptedModel{recognize: map[string]string{"打开客厅灯": lightReply}}
	a := newAssistant(gen, &recordingDispatcher{err: boom})

	reply, err := a.Handle(context.Background(), Request{Message: "打开客厅灯"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Equal(t, TextSendFailure, reply.Text)
}

// failingPublisher rejects the publishes whose 1-based call number is in fail.
type failingPublisher struct {
	fail  map[int]error
	calls int
}

func (p *failingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.calls++
	return p.fail[p.calls]
}

func (p *failingPublisher) Transport() string { return "test" }

func TestPartialDispatchFailure(t *testing.T) {
	boom := errors.New("broker unavailable")
	gen := &scriptedModel{recognize: map[string]string{"开灯关窗": twoReply}}
	pub := &failingPublisher{fail: map[int]error{2: boom}}
	a := newAssistant(gen, dispatch.New(pub, "home/commands"))

	reply, err := a.Handle(context.Background(), Request{Message: "开灯关窗"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, ReplyError, reply.Kind)
	require.Len(t, reply.Commands, 1)
	assert.Equal(t, command.TypeLight, reply.Commands[0].Type)

	window := command.Command{Type: command.TypeWindow, Action: command.ActionClose}
	assert.Equal(t, "已执行: 打开客厅灯；"+TextSendFailure+": "+window.Message(), reply.Text)

	last, ok := a.History().LastDevice()
	require.True(t, ok)
	assert.Equal(t, command.TypeLight, last)
}

func TestTotalDispatchFailure(t *testing.T) {
	boom := errors.New("broker unavailable")
	gen := &scriptedModel{recognize: map[string]string{"开灯关窗": twoReply}}
	pub := &failingPublisher{fail: map[int]error{1: boom, 2: boom}}
	a := newAssistant(gen, dispatch.New(pub, "home/commands"))

	reply, err := a.Handle(context.Background(), Request{Message: "开灯关窗"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Equal(t, TextSendFailure, reply.Text)
	assert.Empty(t, reply.Commands)
}

func TestEmptyMessage(t *testing.T) {
	a := newAssistant(&scriptedModel{}, &recordingDispatcher{})

	reply, err := a.Handle(context.Background(), Request{Message: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, ReplyError, reply.Kind)
}

func TestPronounResolvedBeforeRecognition(t *testing.T) {
	gen := &scriptedModel{recognize: map[string]string{"打开客厅灯": lightReply}}
	a := newAssistant(gen, &recordingDispatcher{})
	ctx := context.Background()

	_, err := a.Handle(ctx, Request{Message: "打开客厅灯"})
	require.NoError(t, err)

	_, err = a.Handle(ctx, Request{Message: "把它关了"})
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt(), "用户输入：把灯关了\n")
}

func TestIntentAnalysis(t *testing.T) {
	gen := &scriptedModel{
		intent: `{"corrected_text": "你好", "intent": "chat", "reason": "问候"}`,
		chat:   "你好呀，有什么可以帮您？",
	}
	d := &recordingDispatcher{}
	a := newAssistant(gen, d, WithIntentAnalysis(gen))

	reply, err := a.Handle(context.Background(), Request{Message: "你好"})
	require.NoError(t, err)
	assert.Equal(t, ReplyChat, reply.Kind)
	assert.Equal(t, "你好呀，有什么可以帮您？", reply.Text)

	gen.intent = `{"corrected_text": "嗯嗯", "intent": "ignore"}`
	reply, err = a.Handle(context.Background(), Request{Message: "嗯嗯"})
	require.NoError(t, err)
	assert.Equal(t, ReplyNone, reply.Kind)
	assert.Empty(t, d.sent)
}
