package topic

import (
	"strings"
)

// Topic segments shared by the assistant, the brokers and the simulator.
// Changing these values breaks compatibility with running simulators.
const (
	// DefaultRoot is the namespace used when none is configured.
	DefaultRoot = "smart_home"

	// SuffixCommand carries device commands (Assistant -> Devices).
	// Structure: {root}/command
	SuffixCommand = "command"

	// SuffixFeedback carries simulated device responses (Devices -> Assistant).
	// Structure: {root}/feedback
	SuffixFeedback = "feedback"
)

// Builder constructs topic strings under a common root.
type Builder struct {
	root string
}

// NewBuilder returns a Builder for root, or DefaultRoot when empty.
func NewBuilder(root string) *Builder {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	return &Builder{root: root}
}

// Root returns the namespace.
func (b *Builder) Root() string { return b.root }

// Command returns the command topic.
func (b *Builder) Command() string {
	return b.build(SuffixCommand)
}

// Feedback returns the device feedback topic.
func (b *Builder) Feedback() string {
	return b.build(SuffixFeedback)
}

// All returns a filter matching every topic under the root.
// Result: {root}/#
func (b *Builder) All() string {
	return b.build(MultiWildcard)
}

func (b *Builder) build(suffix string) string {
	return b.root + "/" + suffix
}
