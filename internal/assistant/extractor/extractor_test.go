package extractor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/homepeer/internal/assistant/resolution"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func replying(reply string) (model.Generator, *[]string) {
	var prompts []string
	return model.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return reply, nil
	}), &prompts
}

func newExtractor(gen model.Generator) *Extractor {
	return New(gen, WithClock(func() time.Time { return fixedNow }), WithTimeout(time.Second))
}

func TestRecognize(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		reply     string
		wantKind  resolution.Kind
		wantCmds  []command.Command
		wantCands []command.PotentialCommand
	}{
		{
			name:      "explicit command",
			utterance: "打开灯",
			reply:     `{"commands":[{"type":"light","device":"灯","action":"开"}],"potential":[]}`,
			wantKind:  resolution.KindDirect,
			wantCmds:  []command.Command{{Type: command.TypeLight, Device: "灯", Action: command.ActionOpen, Timestamp: fixedNow}},
		},
		{
			name:      "implicit request",
			utterance: "有点热",
			reply:     `{"commands":[],"potential":[{"type":"ac","action":"开","suggestion":"为您打开空调？"}]}`,
			wantKind:  resolution.KindAmbiguous,
			wantCands: []command.PotentialCommand{{Type: command.TypeAC, Action: command.ActionOpen, Suggestion: "为您打开空调？"}},
		},
		{
			name:      "json wrapped in prose and fences",
			utterance: "关空调",
			reply:     "好的，结果如下：\n```json\n{\"commands\":[{\"type\":\"ac\",\"action\":\"关\"}],\"potential\":[]}\n```\n希望有帮助 {",
			wantKind:  resolution.KindDirect,
			wantCmds:  []command.Command{{Type: command.TypeAC, Action: command.ActionClose, Timestamp: fixedNow}},
		},
		{
			name:      "several explicit commands keep their order",
			utterance: "不要打开空调 开窗透气",
			reply:     `{"commands":[{"type":"ac","device":"空调","action":"关"},{"type":"window","device":"窗户","action":"开"}],"potential":[]}`,
			wantKind:  resolution.KindDirect,
			wantCmds: []command.Command{
				{Type: command.TypeAC, Device: "空调", Action: command.ActionClose, Timestamp: fixedNow},
				{Type: command.TypeWindow, Device: "窗户", Action: command.ActionOpen, Timestamp: fixedNow},
			},
		},
		{
			name:      "temperature without action is a detection",
			utterance: "现在几度",
			reply:     `{"commands":[{"type":"temperature","device":""}],"potential":[]}`,
			wantKind:  resolution.KindDirect,
			wantCmds:  []command.Command{{Type: command.TypeTemperature, Action: command.ActionDetect, Timestamp: fixedNow}},
		},
		{
			name:      "legacy single object",
			utterance: "开窗",
			reply:     `{"type":"window","device":"窗户","action":"open"}`,
			wantKind:  resolution.KindDirect,
			wantCmds:  []command.Command{{Type: command.TypeWindow, Device: "窗户", Action: command.ActionOpen, Timestamp: fixedNow}},
		},
		{
			name:      "invalid action for temperature is dropped",
			utterance: "打开温度",
			reply:     `{"commands":[{"type":"temperature","action":"开"}],"potential":[]}`,
			wantKind:  resolution.KindNone,
		},
		{
			name:      "unknown type is dropped",
			utterance: "打开电视",
			reply:     `{"commands":[{"type":"tv","action":"开"}],"potential":[]}`,
			wantKind:  resolution.KindNone,
		},
		{
			name:      "nothing relevant",
			utterance: "今天天气怎么样",
			reply:     `{"commands":[],"potential":[]}`,
			wantKind:  resolution.KindNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, prompts := replying(tt.reply)
			res, err := newExtractor(gen).Recognize(context.Background(), tt.utterance)
			require.NoError(t, err)
			require.Len(t, *prompts, 1)
			assert.Contains(t, (*prompts)[0], "用户输入："+tt.utterance)

			assert.Equal(t, tt.wantKind, res.Kind())
			if tt.wantCmds != nil {
				assert.Equal(t, tt.wantCmds, res.Commands())
			}
			if tt.wantCands != nil {
				assert.Equal(t, tt.wantCands, res.Candidates())
			}
		})
	}
}

func TestRecognizeMalformedReplyDegradesToNone(t *testing.T) {
	before := testutil.ToFloat64(metrics.MalformedReplyTotal)

	gen, _ := replying("抱歉，我不太明白您的意思。")
	res, err := newExtractor(gen).Recognize(context.Background(), "嗯嗯")
	require.NoError(t, err)
	assert.Equal(t, resolution.KindNone, res.Kind())

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MalformedReplyTotal))
}

func TestRecognizeSurfacesModelErrors(t *testing.T) {
	for _, kind := range []error{model.ErrTimeout, model.ErrUnavailable} {
		t.Run(kind.Error(), func(t *testing.T) {
			gen := model.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
				return "", &model.Error{Op: "test", Kind: kind, Err: fmt.Errorf("boom")}
			})

			res, err := newExtractor(gen).Recognize(context.Background(), "打开灯")
			require.ErrorIs(t, err, kind)
			assert.Equal(t, resolution.KindNone, res.Kind())
		})
	}
}

func TestRecognizeAppliesTimeout(t *testing.T) {
	gen := model.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return `{"commands":[],"potential":[]}`, nil
	})

	_, err := newExtractor(gen).Recognize(context.Background(), "打开灯")
	require.NoError(t, err)
}

func TestRecognizeEmptyUtterance(t *testing.T) {
	gen, prompts := replying(`{"commands":[{"type":"light","action":"开"}]}`)
	res, err := newExtractor(gen).Recognize(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, resolution.KindNone, res.Kind())
	assert.Empty(t, *prompts)
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	pc := PromptContext{History: "用户：打开灯\n系统：打开灯", DeviceStates: "灯: 开启"}

	a := BuildPrompt("把它关了", pc)
	b := BuildPrompt("把它关了", pc)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "最近对话历史：\n用户：打开灯")
	assert.Contains(t, a, "当前设备状态：\n灯: 开启")
	assert.True(t, strings.Index(a, "当前设备状态") < strings.Index(a, "用户输入：把它关了"))

	bare := BuildPrompt("把它关了", PromptContext{})
	assert.NotContains(t, bare, "最近对话历史")
	assert.NotContains(t, bare, "当前设备状态")
}

func TestFirstJSONObject(t *testing.T) {
	raw, err := FirstJSONObject(`noise {broken {"ok":true} tail`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	_, err = FirstJSONObject("no json here")
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestAnalyzeIntent(t *testing.T) {
	gen, _ := replying(`{"corrected_text":"你好","intent":"chat","reason":"greeting"}`)
	out, err := newExtractor(gen).AnalyzeIntent(context.Background(), "你好", "")
	require.NoError(t, err)
	assert.Equal(t, IntentChat, out.Intent)

	gen, _ = replying("???")
	out, err = newExtractor(gen).AnalyzeIntent(context.Background(), "有点热", "")
	require.NoError(t, err)
	assert.Equal(t, IntentCommand, out.Intent)
	assert.Equal(t, "有点热", out.CorrectedText)

	gen, prompts := replying(`{"intent":"chat"}`)
	out, err = newExtractor(gen).AnalyzeIntent(context.Background(), "啊", "")
	require.NoError(t, err)
	assert.Equal(t, IntentIgnore, out.Intent)
	assert.Empty(t, *prompts)
}
