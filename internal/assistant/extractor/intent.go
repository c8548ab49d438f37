package extractor

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Intent classifies what the user meant by an utterance.
type Intent string

const (
	IntentCommand Intent = "command"
	IntentChat    Intent = "chat"
	IntentIgnore  Intent = "ignore"
)

// IntentResult is the outcome of AnalyzeIntent.
type IntentResult struct {
	Intent        Intent `json:"intent"`
	CorrectedText string `json:"corrected_text"`
	Reason        string `json:"reason,omitempty"`
}

const intentPrompt = `你是一个智能语音助手。请分析用户的输入内容，判断其意图。
注意：输入可能来自语音识别，可能存在同音字错误或不完整。只有在非常有把握还原用户本意时才进行纠错，否则保留原文本。

上下文：
%HISTORY%

原始文本："%UTTERANCE%"

意图分类：
- command: 包含智能家居控制指令（如开灯、关空调、查温度），或者表达了可能需要设备帮助的感受（如有点热、太暗了）。
- chat: 针对助手的闲聊或提问（如你好、讲个笑话）。
- ignore: 背景噪音、自言自语、逻辑不通的乱码、或者明显不是对助手说的话。

请严格按照JSON格式返回：
{"corrected_text": "修正后的文本", "intent": "command" | "chat" | "ignore", "reason": "判断理由"}`

// AnalyzeIntent asks the model whether utterance is a device request, small
// talk or noise. Model failures are returned; unparsable replies fall back to
// treating the utterance as a command request so recognition still runs.
func (e *Extractor) AnalyzeIntent(ctx context.Context, utterance, history string) (IntentResult, error) {
	fallback := IntentResult{Intent: IntentCommand, CorrectedText: utterance}
	if utf8.RuneCountInString(strings.TrimSpace(utterance)) < 2 {
		return IntentResult{Intent: IntentIgnore, CorrectedText: utterance}, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prompt := strings.NewReplacer("%HISTORY%", history, "%UTTERANCE%", utterance).Replace(intentPrompt)
	reply, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return fallback, err
	}

	raw, err := FirstJSONObject(reply)
	if err != nil {
		e.logger.Warn("Intent reply not parseable", "reply", reply)
		return fallback, nil
	}

	var out IntentResult
	if err := json.Unmarshal(raw, &out); err != nil {
		e.logger.Warn("Intent reply not parseable", "reply", reply, "error", err)
		return fallback, nil
	}

	switch out.Intent {
	case IntentCommand, IntentChat, IntentIgnore:
	default:
		return fallback, nil
	}
	if strings.TrimSpace(out.CorrectedText) == "" {
		out.CorrectedText = utterance
	}
	return out, nil
}
