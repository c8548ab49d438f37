package clarify

import (
	"fmt"
	"strings"

	"github.com/autopeer-io/homepeer/pkg/command"
)

// DefaultQuestion is asked when there is nothing better to say.
const DefaultQuestion = "您想要执行什么操作？"

// BuildQuestionPrompt renders the prompt asking the model for one natural
// clarification question covering every candidate.
func BuildQuestionPrompt(utterance string, candidates []command.PotentialCommand) string {
	var b strings.Builder

	fmt.Fprintf(&b, "用户说：\"%s\"\n可能的操作：\n", strings.TrimSpace(utterance))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Describe())
	}
	b.WriteString("\n请生成一个自然的询问，询问用户想要执行哪个操作，每个可能的操作都要提到。")
	b.WriteString("不要使用编号列表，而是用自然语言询问。\n只返回询问文本，不要其他说明。")

	return b.String()
}

// FallbackQuestion composes a question locally from the candidates.
func FallbackQuestion(candidates []command.PotentialCommand) string {
	opts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if d := strings.TrimRight(c.Describe(), "？?。 "); d != "" {
			opts = append(opts, d)
		}
	}

	switch len(opts) {
	case 0:
		return DefaultQuestion
	case 1:
		return opts[0] + "？"
	}

	var b strings.Builder
	b.WriteString("请问您需要哪一项：")
	for i, o := range opts {
		if i > 0 {
			b.WriteString("；")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, o)
	}
	b.WriteString("？")
	return b.String()
}

// cleanQuestion strips quoting and whitespace the model tends to add.
func cleanQuestion(q string) string {
	q = strings.TrimSpace(q)
	q = strings.Trim(q, "\"'“”「」")
	return strings.TrimSpace(q)
}
