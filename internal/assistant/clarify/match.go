package clarify

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/autopeer-io/homepeer/pkg/command"
)

// referents are the words that point at a device type in a reply.
var referents = map[command.Type][]string{
	command.TypeLight:       {"灯", "照明", "亮", "light", "lamp"},
	command.TypeAC:          {"空调", "冷气", "暖气", "制冷", "降温", "air conditioner", "aircon"},
	command.TypeWindow:      {"窗", "通风", "透气", "window"},
	command.TypeTemperature: {"温度", "室温", "气温", "几度", "多少度", "测温", "temperature"},
}

var actionWords = map[command.Action][]string{
	command.ActionOpen:   {"开", "open", "turn on"},
	command.ActionClose:  {"关", "close", "off"},
	command.ActionDetect: {"测", "查", "检", "check"},
}

// ordinals select a candidate by its position in the question.
var ordinals = [][]string{
	{"第一", "第1", "first", "前者", "前面那个"},
	{"第二", "第2", "second"},
	{"第三", "第3", "third"},
	{"第四", "第4", "fourth"},
}

var (
	negations = []string{"不要", "不用", "不必", "不想", "不需要", "无需", "别", "甭"}
	// agreements contain refusal characters but mean yes.
	agreements   = []string{"没问题", "没事", "没关系", "不错", "不客气"}
	refusalRunes = "不别没"
	refusals     = []string{"算了", "nope", "no"}
	allWords     = []string{"都要", "全要", "全部", "全都", "两个都", "both", "all"}
	affirmative  = []string{"好", "可以", "行", "嗯", "是", "对", "要", "确定", "当然", "麻烦", "ok", "yes", "sure"}
	politePrefix = []string{"为您", "帮您", "给您", "为你", "帮你", "给你", "请"}
	separators   = "，,。.;；、!！?？\n "
	latter       = "后者"
)

// ParseUserResponse maps a free-text clarification reply onto the candidates.
// It returns the selected candidates as commands ordered by where the reply
// first mentions them, or nil when the reply selects nothing.
func ParseUserResponse(reply string, candidates []command.PotentialCommand, now time.Time) []command.Command {
	cmds, _ := matchReply(reply, candidates, now)
	return cmds
}

// matchReply is ParseUserResponse that also reports whether the reply
// declined every option, as opposed to not being understood.
func matchReply(reply string, candidates []command.PotentialCommand, now time.Time) ([]command.Command, bool) {
	text := strings.ToLower(strings.TrimSpace(reply))
	if text == "" || len(candidates) == 0 {
		return nil, false
	}

	m := newMatcher(text, candidates)

	type hit struct{ idx, pos int }
	var hits []hit

	for i := range candidates {
		if pos := m.mention(i); pos >= 0 {
			hits = append(hits, hit{idx: i, pos: pos})
		}
	}
	for _, pos := range occurrences(text, latter) {
		if m.negated(pos, pos+len(latter)) {
			continue
		}
		last := len(candidates) - 1
		if !slices.ContainsFunc(hits, func(h hit) bool { return h.idx == last }) {
			hits = append(hits, hit{idx: last, pos: pos})
		}
		break
	}

	var selected []int
	switch {
	case len(hits) > 0:
		slices.SortStableFunc(hits, func(a, b hit) int {
			return cmp.Or(cmp.Compare(a.pos, b.pos), cmp.Compare(a.idx, b.idx))
		})
		for _, h := range hits {
			selected = append(selected, h.idx)
		}
	case refused(text):
		return nil, true
	case containsAny(text, allWords...):
		for i := range candidates {
			selected = append(selected, i)
		}
	case containsAny(text, affirmative...):
		selected = []int{0}
	default:
		return nil, false
	}

	cmds := make([]command.Command, 0, len(selected))
	for _, i := range selected {
		cmds = append(cmds, candidates[i].Command(now))
	}
	return cmds, false
}

type span struct{ start, end int }

// matcher holds a reply together with every span in it that names an
// option, so a negation can be attributed to the nearest one.
type matcher struct {
	text       string
	candidates []command.PotentialCommand
	spans      []span
}

func newMatcher(text string, candidates []command.PotentialCommand) *matcher {
	m := &matcher{text: text, candidates: candidates}
	add := func(words ...string) {
		for _, w := range words {
			for _, pos := range occurrences(text, w) {
				m.spans = append(m.spans, span{pos, pos + len(w)})
			}
		}
	}

	for _, words := range referents {
		add(words...)
	}
	for _, words := range ordinals {
		add(words...)
	}
	for _, c := range candidates {
		if core := suggestionCore(c.Suggestion); core != "" {
			add(core)
		}
	}
	add(latter)
	return m
}

// mention returns the byte offset of the first non-negated reference to
// candidates[idx], or -1.
func (m *matcher) mention(idx int) int {
	c := m.candidates[idx]
	best := -1
	consider := func(word string) {
		for _, pos := range occurrences(m.text, word) {
			if m.negated(pos, pos+len(word)) {
				continue
			}
			if best < 0 || pos < best {
				best = pos
			}
		}
	}

	if idx < len(ordinals) {
		for _, w := range ordinals[idx] {
			consider(w)
		}
	}
	if core := suggestionCore(c.Suggestion); core != "" {
		consider(core)
	}

	// A reply naming a device shared by several candidates must also name
	// the action, unless this is the first of them.
	shared := false
	firstOfType := true
	for i, other := range m.candidates {
		if i != idx && other.Type == c.Type && other.Action != c.Action {
			shared = true
			if i < idx {
				firstOfType = false
			}
		}
	}

	for _, w := range referents[c.Type] {
		for _, pos := range occurrences(m.text, w) {
			if m.negated(pos, pos+len(w)) {
				continue
			}
			if shared {
				clause := clauseAround(m.text, pos)
				switch {
				case containsAny(clause, actionWords[c.Action]...):
				case !mentionsOtherAction(clause, c.Action) && firstOfType:
				default:
					continue
				}
			}
			if best < 0 || pos < best {
				best = pos
			}
		}
	}

	return best
}

// negated reports whether the option named at text[start:end] is declined.
// A negation between the previous option in the clause and this one applies
// to it, as in "不开空调". A negation after it applies only when no other
// option follows in the same clause, as in "空调就不用了".
func (m *matcher) negated(start, end int) bool {
	clauseStart := start - len(afterLastSeparator(m.text[:start]))
	clauseEnd := len(m.text)
	if i := strings.IndexAny(m.text[end:], separators); i >= 0 {
		clauseEnd = end + i
	}

	before := clauseStart
	followed := false
	for _, s := range m.spans {
		if s.end <= start && s.end > before {
			before = s.end
		}
		if s.start >= end && s.start < clauseEnd {
			followed = true
		}
	}

	if hasNegation(m.text[before:start]) {
		return true
	}
	return !followed && hasNegation(m.text[end:clauseEnd])
}

// hasNegation reports whether s declines something: an explicit negation
// word, or 不 directly before an action verb.
func hasNegation(s string) bool {
	s = stripAgreements(s)
	if containsAny(s, negations...) {
		return true
	}
	for _, words := range actionWords {
		for _, w := range words {
			if strings.Contains(s, "不"+w) || strings.Contains(s, "不打"+w) {
				return true
			}
		}
	}
	return false
}

func refused(text string) bool {
	text = stripAgreements(text)
	return strings.ContainsAny(text, refusalRunes) || containsAny(text, refusals...)
}

func stripAgreements(s string) string {
	for _, w := range agreements {
		s = strings.ReplaceAll(s, w, "")
	}
	return s
}

// suggestionCore reduces a suggestion such as "帮您检测一下室内温度？" to the
// part a user would repeat back, or "" when too little is left.
func suggestionCore(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, "？?。.!！ ")
	for _, p := range politePrefix {
		s = strings.TrimPrefix(s, p)
	}
	if utf8.RuneCountInString(s) < 3 {
		return ""
	}
	return s
}

func mentionsOtherAction(clause string, a command.Action) bool {
	for other, words := range actionWords {
		if other != a && containsAny(clause, words...) {
			return true
		}
	}
	return false
}

func occurrences(text, word string) []int {
	var out []int
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], word)
		if i < 0 {
			break
		}
		out = append(out, off+i)
		off += i + len(word)
	}
	return out
}

func clauseAround(text string, pos int) string {
	head := afterLastSeparator(text[:pos])
	end := strings.IndexAny(text[pos:], separators)
	if end < 0 {
		return head + text[pos:]
	}
	return head + text[pos:pos+end]
}

func afterLastSeparator(s string) string {
	i := strings.LastIndexAny(s, separators)
	if i < 0 {
		return s
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[i+size:]
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
