// Package history keeps the recent conversation and resolves pronouns
// against the devices mentioned in it.
package history

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/homepeer/pkg/command"
)

// DefaultMaxTurns is the number of turns kept when none is given.
const DefaultMaxTurns = 10

// Role of a turn's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation.
type Turn struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Time     time.Time         `json:"time"`
	Commands []command.Command `json:"commands,omitempty"`
}

// History is a bounded, concurrency safe conversation log.
type History struct {
	mu    sync.RWMutex
	max   int
	turns []Turn
	now   func() time.Time
}

// New returns a History keeping at most size turns.
func New(size int) *History {
	if size <= 0 {
		size = DefaultMaxTurns
	}
	return &History{max: size, now: time.Now}
}

// Add appends a turn, dropping the oldest beyond the limit.
func (h *History) Add(role Role, content string, cmds ...command.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, Turn{
		Role:     role,
		Content:  content,
		Time:     h.now(),
		Commands: slices.Clone(cmds),
	})
	if over := len(h.turns) - h.max; over > 0 {
		h.turns = slices.Delete(h.turns, 0, over)
	}
}

// Recent returns up to n of the latest turns, oldest first.
func (h *History) Recent(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := max(len(h.turns)-n, 0)
	return slices.Clone(h.turns[start:])
}

// Len returns the number of turns held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear drops every turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// Context renders the whole history as "用户：…" / "系统：…" lines.
func (h *History) Context() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lines := make([]string, 0, len(h.turns))
	for _, t := range h.turns {
		speaker := "系统"
		if t.Role == RoleUser {
			speaker = "用户"
		}
		lines = append(lines, speaker+"："+t.Content)
	}
	return strings.Join(lines, "\n")
}

// LastDevice returns the type of the most recent command in the history.
func (h *History) LastDevice() (command.Type, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if cmds := h.turns[i].Commands; len(cmds) > 0 {
			return cmds[len(cmds)-1].Type, true
		}
	}
	return "", false
}

// Pronouns replaced by a device noun, longest first so "刚才那个" wins over "那个".
var (
	objectPronouns   = []string{"刚才那个", "它", "那个", "这个"}
	temporalPronouns = []string{"上面", "刚才", "之前"}
)

// ResolvePronouns replaces the first pronoun found in text with the device
// last mentioned in the history, or with fallback's device when the history
// has none. Temporal references ("刚才") are only expanded for history
// devices. ok is false when text was left unchanged.
func (h *History) ResolvePronouns(text string, fallback func() (command.Type, bool)) (string, bool) {
	if !containsAny(text, objectPronouns) && !containsAny(text, temporalPronouns) {
		return text, false
	}

	if device, ok := h.LastDevice(); ok {
		return replacePronoun(text, device.Noun(), true)
	}
	if fallback != nil {
		if device, ok := fallback(); ok {
			return replacePronoun(text, device.Noun(), false)
		}
	}
	return text, false
}

func replacePronoun(text, noun string, temporal bool) (string, bool) {
	for _, p := range objectPronouns {
		if strings.Contains(text, p) {
			return strings.ReplaceAll(text, p, noun), true
		}
	}
	if temporal {
		for _, p := range temporalPronouns {
			if strings.Contains(text, p) {
				return strings.ReplaceAll(text, p, noun+"的"+p), true
			}
		}
	}
	return text, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
