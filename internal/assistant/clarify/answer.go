package clarify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/autopeer-io/homepeer/internal/assistant/extractor"
	"github.com/autopeer-io/homepeer/pkg/command"
)

// BuildAnswerPrompt renders the prompt asking the model which candidates a
// reply selects.
func BuildAnswerPrompt(reply string, candidates []command.PotentialCommand) string {
	var b strings.Builder

	fmt.Fprintf(&b, "用户回答：\"%s\"\n可选的操作：\n", strings.TrimSpace(reply))
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (type: %s, action: %s)\n", c.Command(time.Time{}).Message(), c.Type, c.Action)
	}
	b.WriteString(`
请分析用户的回答，判断用户想要执行哪些操作。
- 如果用户的回答包含多个操作，按用户提到的顺序返回所有操作
- 如果用户的回答明确指向单个操作，只返回该操作
- 如果用户的回答是模糊的肯定回答，选择第一个操作
- 如果用户拒绝或完全无法确定，返回：{"commands": []}

请严格按照JSON格式返回结果：
{"commands": [{"type": "ac", "device": "空调", "action": "开"}, {"type": "temperature", "device": "", "action": "检测"}]}

只返回JSON，不要其他文字说明。`)

	return b.String()
}

// answerWithModel asks the model to interpret a reply the keyword matcher
// could not place. Only commands matching a candidate are kept; model
// failures count as no selection.
func (r *Resolver) answerWithModel(ctx context.Context, reply string, candidates []command.PotentialCommand) []command.Command {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.gen.Generate(ctx, BuildAnswerPrompt(reply, candidates))
	if err != nil {
		r.logger.Error(err, "Model could not interpret the reply", "reply", reply)
		return nil
	}

	now := r.now()
	res, dropped, err := extractor.ParseReply(out, now)
	if err != nil {
		r.logger.Warn("Model answered the reply without JSON", "reply", reply, "error", err)
		return nil
	}
	for _, e := range dropped {
		r.logger.Debug("Dropped invalid entry from model answer", "error", e)
	}

	var picked []int
	for _, c := range res.Commands() {
		i := slices.IndexFunc(candidates, func(p command.PotentialCommand) bool {
			return p.Type == c.Type && p.Action == c.Action
		})
		if i < 0 {
			r.logger.Warn("Model selected a command that was not offered", "command", c.String())
			continue
		}
		if !slices.Contains(picked, i) {
			picked = append(picked, i)
		}
	}

	cmds := make([]command.Command, 0, len(picked))
	for _, i := range picked {
		cmds = append(cmds, candidates[i].Command(now))
	}
	return cmds
}
