// Package home tracks the believed state of the household devices from the
// commands sent to them.
package home

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/homepeer/pkg/command"
)

// Power and window states.
const (
	StateOn     = "on"
	StateOff    = "off"
	StateOpen   = "open"
	StateClosed = "closed"
)

// DeviceState is the last known state of one device type. Temperature has no
// State; only the time of the last check is kept.
type DeviceState struct {
	Type       command.Type   `json:"type"`
	State      string         `json:"state,omitempty"`
	LastAction command.Action `json:"last_action,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitzero"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	devices map[command.Type]*DeviceState
	now     func() time.Time
}

// NewTracker returns a Tracker with every device off or closed.
func NewTracker() *Tracker {
	t := &Tracker{
		devices: make(map[command.Type]*DeviceState, len(command.Types)),
		now:     time.Now,
	}
	for _, typ := range command.Types {
		t.devices[typ] = &DeviceState{Type: typ, State: initialState(typ)}
	}
	return t
}

func initialState(t command.Type) string {
	switch t {
	case command.TypeWindow:
		return StateClosed
	case command.TypeTemperature:
		return ""
	}
	return StateOff
}

// Apply records the effect of cmd. Unknown types are ignored.
func (t *Tracker) Apply(cmd command.Command) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[cmd.Type]
	if !ok {
		return
	}

	at := cmd.Timestamp
	if at.IsZero() {
		at = t.now()
	}
	d.UpdatedAt = at
	d.LastAction = cmd.Action

	switch {
	case cmd.Type == command.TypeTemperature:
	case cmd.Action == command.ActionOpen && cmd.Type == command.TypeWindow:
		d.State = StateOpen
	case cmd.Action == command.ActionOpen:
		d.State = StateOn
	case cmd.Action == command.ActionClose && cmd.Type == command.TypeWindow:
		d.State = StateClosed
	case cmd.Action == command.ActionClose:
		d.State = StateOff
	}
}

// HandleMessage applies a command received on the command topic. Payloads
// that are not valid commands are ignored. Applying a command twice has no
// further effect, so the tracker may follow its own dispatches.
func (t *Tracker) HandleMessage(ctx context.Context, topic string, payload []byte) {
	cmd, err := command.Decode(payload)
	if err != nil {
		return
	}
	t.Apply(cmd)
}

// Snapshot returns a copy of every device state in display order.
func (t *Tracker) Snapshot() []DeviceState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DeviceState, 0, len(command.Types))
	for _, typ := range command.Types {
		out = append(out, *t.devices[typ])
	}
	return out
}

// Get returns the state of one device type.
func (t *Tracker) Get(typ command.Type) (DeviceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.devices[typ]
	if !ok {
		return DeviceState{}, false
	}
	return *d, true
}

// LastOperated returns the most recently changed or checked device.
func (t *Tracker) LastOperated() (command.Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		latest command.Type
		at     time.Time
	)
	for _, typ := range command.Types {
		d := t.devices[typ]
		if !d.UpdatedAt.IsZero() && d.UpdatedAt.After(at) {
			latest, at = typ, d.UpdatedAt
		}
	}
	return latest, latest != ""
}

var stateNames = map[string]string{
	StateOn:     "开启",
	StateOff:    "关闭",
	StateOpen:   "打开",
	StateClosed: "关闭",
}

// Summary renders the states in Chinese, one device per line, for use in
// model prompts.
func (t *Tracker) Summary() string {
	var lines []string
	for _, d := range t.Snapshot() {
		name := d.Type.Noun()
		if d.Type == command.TypeTemperature {
			if !d.UpdatedAt.IsZero() {
				lines = append(lines, fmt.Sprintf("%s：最后检查时间 %s", name, d.UpdatedAt.Format(time.DateTime)))
			}
			continue
		}

		last := "无"
		if d.LastAction != "" {
			last = string(d.LastAction)
		}
		lines = append(lines, fmt.Sprintf("%s：%s（最后操作：%s）", name, stateNames[d.State], last))
	}

	if len(lines) == 0 {
		return "暂无设备状态信息"
	}
	return strings.Join(lines, "\n")
}
