package app

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/homepeer/internal/assistant"
	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/pkg/command"
)

type scriptedChatter struct {
	got     []string
	replies map[string]assistant.Reply
}

func (s *scriptedChatter) Handle(ctx context.Context, req assistant.Request) (assistant.Reply, error) {
	s.got = append(s.got, req.Message)
	return s.replies[req.Message], nil
}

func TestRunChat(t *testing.T) {
	chat := &scriptedChatter{replies: map[string]assistant.Reply{
		"开灯": {
			Kind:     assistant.ReplySuccess,
			Text:     "已执行: 打开灯",
			Commands: []command.Command{{Type: command.TypeLight, Action: command.ActionOpen}},
		},
		"有点热": {
			Kind: assistant.ReplyQuestion,
			Text: "要为您打开空调吗？",
			Candidates: []command.PotentialCommand{
				{Type: command.TypeAC, Action: command.ActionOpen, Suggestion: "打开空调"},
			},
		},
		"你好": {Kind: assistant.ReplyChat, Text: "你好！"},
	}}

	var out bytes.Buffer
	in := strings.NewReader("开灯\n\n有点热\n你好\nquit\n不会读到\n")
	require.NoError(t, runChat(context.Background(), chat, in, &out))

	assert.Equal(t, []string{"开灯", "有点热", "你好"}, chat.got)
	text := out.String()
	assert.Contains(t, text, "✓ 已执行: 打开灯")
	assert.Contains(t, text, "  - 打开灯")
	assert.Contains(t, text, assistant.TextEmpty)
	assert.Contains(t, text, "? 要为您打开空调吗？")
	assert.Contains(t, text, "  1. ")
	assert.Contains(t, text, "你好！")
	assert.Contains(t, text, "程序退出")
}

func TestRunChatStopsAtEOF(t *testing.T) {
	chat := &scriptedChatter{}
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), chat, strings.NewReader("退出"), &out))
	assert.Empty(t, chat.got)
}

func TestRunChatStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runChat(ctx, &scriptedChatter{}, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not stop")
	}
}

func TestTail(t *testing.T) {
	b, err := broker.Open(filepath.Join(t.TempDir(), "messages.jsonl"), broker.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	_, err = b.Publish(ctx, "smart_home/command", []byte(`{"type":"light","action":"开"}`))
	require.NoError(t, err)
	_, err = b.Publish(ctx, "smart_home/feedback", []byte(`{"text":"灯已打开"}`))
	require.NoError(t, err)

	sub, err := b.Subscribe("smart_home/#", broker.FromStart())
	require.NoError(t, err)
	defer sub.Close()

	var out bytes.Buffer
	require.NoError(t, tail(ctx, sub, &out, false))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PAYLOAD")
	assert.Contains(t, lines[1], "smart_home/command")
	assert.Contains(t, lines[2], "灯已打开")
}

func TestTailFollow(t *testing.T) {
	b, err := broker.Open(filepath.Join(t.TempDir(), "messages.jsonl"), broker.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe("smart_home/#")
	require.NoError(t, err)
	defer sub.Close()

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tail(ctx, sub, out, true) }()

	_, err = b.Publish(context.Background(), "smart_home/command", []byte("later"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "later") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not stop")
	}
}
