package extractor

import (
	"strings"
)

// PromptContext carries optional context rendered ahead of the utterance.
type PromptContext struct {
	// History is the formatted recent conversation.
	History string
	// DeviceStates is the human-readable device state summary.
	DeviceStates string
}

const recognizeInstructions = `你是一个智能家居指令识别系统。你的任务是从用户的自然语言输入中提取明确的控制指令。

请注意：用户可能会使用口语化、礼貌性的表达（如"帮我..."、"请..."、"有点热"、"太暗了"），你需要忽略这些修饰语，提取核心的控制意图。
同时，请注意用户的否定指令或修正指令（如"不要打开空调"、"不对，是关灯"），这通常意味着撤销之前的操作或确保设备处于特定状态。

支持的指令类型：
1. 开关灯（light）：开、关
2. 开关空调（ac）：开、关
3. 开关窗户（window）：开、关
4. 温度检测（temperature）：检测

明确指令放入 commands；只有暗示、没有明确说出的意图放入 potential，并附上一句询问式的 suggestion。

示例：
- "帮我把空调打开" -> {"commands": [{"type": "ac", "device": "空调", "action": "开"}], "potential": []}
- "有点热" -> {"commands": [], "potential": [{"type": "ac", "action": "开", "suggestion": "为您打开空调？"}]}
- "不要打开空调 开窗透气" -> {"commands": [{"type": "ac", "device": "空调", "action": "关"}, {"type": "window", "device": "窗户", "action": "开"}], "potential": []}
- "查看当前温度" -> {"commands": [{"type": "temperature", "device": "", "action": "检测"}], "potential": []}
`

const recognizeOutput = `请严格按照JSON格式返回结果：
- 如果包含明确指令，返回：{"commands": [指令对象列表], "potential": []}
- 如果不包含明确指令，但可能有潜在意图，返回：{"commands": [], "potential": [潜在指令数组]}
- 如果完全不相关，返回：{"commands": [], "potential": []}

只返回JSON，不要其他文字说明。`

// BuildPrompt renders the recognition prompt. Identical inputs always
// produce identical bytes.
func BuildPrompt(utterance string, pc PromptContext) string {
	var b strings.Builder

	b.WriteString(recognizeInstructions)
	b.WriteString("\n")

	if h := strings.TrimSpace(pc.History); h != "" {
		b.WriteString("最近对话历史：\n")
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(pc.DeviceStates); s != "" {
		b.WriteString("当前设备状态：\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}

	b.WriteString("用户输入：")
	b.WriteString(strings.TrimSpace(utterance))
	b.WriteString("\n\n")
	b.WriteString(recognizeOutput)

	return b.String()
}
