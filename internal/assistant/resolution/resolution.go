// Package resolution holds the outcome of interpreting one utterance.
package resolution

import (
	"slices"

	"github.com/autopeer-io/homepeer/pkg/command"
)

// Kind discriminates the three mutually exclusive outcomes.
type Kind int

const (
	KindNone Kind = iota
	KindDirect
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Resolution is exactly one of Direct, Ambiguous or None. The zero value is None.
type Resolution struct {
	kind       Kind
	commands   []command.Command
	candidates []command.PotentialCommand
}

// Direct wraps an explicit command. Further commands from the same utterance
// may follow the primary one, in the order they were spoken.
func Direct(cmd command.Command, more ...command.Command) Resolution {
	cmds := make([]command.Command, 0, 1+len(more))
	cmds = append(cmds, cmd)
	cmds = append(cmds, more...)
	return Resolution{kind: KindDirect, commands: cmds}
}

// Ambiguous wraps the candidate interpretations of an implicit request.
// An empty list yields None.
func Ambiguous(candidates []command.PotentialCommand) Resolution {
	if len(candidates) == 0 {
		return None()
	}
	return Resolution{kind: KindAmbiguous, candidates: slices.Clone(candidates)}
}

// None means no device intent was recognised.
func None() Resolution {
	return Resolution{}
}

func (r Resolution) Kind() Kind { return r.kind }

// Command returns the primary command of a Direct resolution.
func (r Resolution) Command() (command.Command, bool) {
	if r.kind != KindDirect {
		return command.Command{}, false
	}
	return r.commands[0], true
}

// Commands returns every command of a Direct resolution.
func (r Resolution) Commands() []command.Command {
	return slices.Clone(r.commands)
}

// Candidates returns the candidates of an Ambiguous resolution.
func (r Resolution) Candidates() []command.PotentialCommand {
	return slices.Clone(r.candidates)
}

func (r Resolution) String() string {
	return r.kind.String()
}
