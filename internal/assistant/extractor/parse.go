package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autopeer-io/homepeer/internal/assistant/resolution"
	"github.com/autopeer-io/homepeer/pkg/command"
)

// ErrMalformedReply marks a model reply that held no usable JSON object.
var ErrMalformedReply = errors.New("malformed model reply")

type rawCommand struct {
	Type       string `json:"type"`
	Device     string `json:"device"`
	Action     string `json:"action"`
	Suggestion string `json:"suggestion"`
}

type recognizeReply struct {
	Commands  []rawCommand `json:"commands"`
	Potential []rawCommand `json:"potential"`

	// Older prompts answered with a single bare command object.
	rawCommand
}

// FirstJSONObject returns the first well-formed JSON object embedded in text.
// Prose, code fences and trailing garbage around it are ignored.
func FirstJSONObject(text string) (json.RawMessage, error) {
	for i := strings.IndexByte(text, '{'); i >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			return raw, nil
		}

		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedReply)
}

// ParseReply converts a raw model reply into a Resolution. Entries that fail
// validation are dropped and reported in the returned slice; a reply without
// any JSON object returns ErrMalformedReply.
func ParseReply(text string, now time.Time) (resolution.Resolution, []error, error) {
	raw, err := FirstJSONObject(text)
	if err != nil {
		return resolution.None(), nil, err
	}

	var reply recognizeReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return resolution.None(), nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	var dropped []error

	entries := reply.Commands
	if len(entries) == 0 && len(reply.Potential) == 0 && reply.Type != "" {
		entries = []rawCommand{reply.rawCommand}
	}

	var cmds []command.Command
	for _, rc := range entries {
		c, err := toCommand(rc, now)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		cmds = append(cmds, c)
	}
	if len(cmds) > 0 {
		return resolution.Direct(cmds[0], cmds[1:]...), dropped, nil
	}

	var cands []command.PotentialCommand
	for _, rc := range reply.Potential {
		p, err := toPotential(rc)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		cands = append(cands, p)
	}

	return resolution.Ambiguous(cands), dropped, nil
}

func parseTypeAction(rawType, rawAction string) (command.Type, command.Action, error) {
	t, err := command.ParseType(rawType)
	if err != nil {
		return "", "", err
	}

	var a command.Action
	if strings.TrimSpace(rawAction) == "" {
		def, ok := command.DefaultAction(t)
		if !ok {
			return "", "", fmt.Errorf("%w: missing action for %s", command.ErrUnknownAction, t)
		}
		a = def
	} else if a, err = command.ParseAction(rawAction); err != nil {
		return "", "", err
	}

	if err := command.ValidateAction(t, a); err != nil {
		return "", "", err
	}
	return t, a, nil
}

func toCommand(rc rawCommand, now time.Time) (command.Command, error) {
	t, a, err := parseTypeAction(rc.Type, rc.Action)
	if err != nil {
		return command.Command{}, err
	}
	return command.New(t, rc.Device, a, now)
}

func toPotential(rc rawCommand) (command.PotentialCommand, error) {
	t, a, err := parseTypeAction(rc.Type, rc.Action)
	if err != nil {
		return command.PotentialCommand{}, err
	}
	return command.PotentialCommand{Type: t, Action: a, Suggestion: strings.TrimSpace(rc.Suggestion)}, nil
}
