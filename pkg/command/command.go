// Package command defines the device command vocabulary shared by the
// dialogue engine, the brokers and the device simulator.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type identifies the device class a command targets.
type Type string

const (
	TypeLight       Type = "light"
	TypeAC          Type = "ac"
	TypeWindow      Type = "window"
	TypeTemperature Type = "temperature"
)

// Types lists every known device type in display order.
var Types = []Type{TypeLight, TypeAC, TypeWindow, TypeTemperature}

// Action is the operation requested on a device.
type Action string

const (
	ActionOpen   Action = "开"
	ActionClose  Action = "关"
	ActionDetect Action = "检测"
)

var (
	ErrUnknownType   = errors.New("unknown command type")
	ErrUnknownAction = errors.New("unknown command action")
	ErrInvalidAction = errors.New("action not allowed for command type")
)

var typeAliases = map[string]Type{
	"light":           TypeLight,
	"lamp":            TypeLight,
	"灯":               TypeLight,
	"电灯":              TypeLight,
	"ac":              TypeAC,
	"air conditioner": TypeAC,
	"aircon":          TypeAC,
	"空调":              TypeAC,
	"window":          TypeWindow,
	"窗":               TypeWindow,
	"窗户":              TypeWindow,
	"temperature":     TypeTemperature,
	"temp":            TypeTemperature,
	"温度":              TypeTemperature,
	"温度检测":            TypeTemperature,
}

var actionAliases = map[string]Action{
	"开":      ActionOpen,
	"打开":     ActionOpen,
	"开启":     ActionOpen,
	"open":   ActionOpen,
	"on":     ActionOpen,
	"关":      ActionClose,
	"关闭":     ActionClose,
	"关掉":     ActionClose,
	"close":  ActionClose,
	"off":    ActionClose,
	"检测":     ActionDetect,
	"查询":     ActionDetect,
	"测量":     ActionDetect,
	"detect": ActionDetect,
	"check":  ActionDetect,
}

// ParseType maps a canonical name or alias to a Type.
func ParseType(s string) (Type, error) {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// ParseAction maps a canonical action or alias to an Action.
func ParseAction(s string) (Action, error) {
	if a, ok := actionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ValidateAction reports whether a is permitted for t. Temperature only
// supports detection; every other type is switched on or off.
func ValidateAction(t Type, a Action) error {
	switch t {
	case TypeTemperature:
		if a == ActionDetect {
			return nil
		}
	case TypeLight, TypeAC, TypeWindow:
		if a == ActionOpen || a == ActionClose {
			return nil
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return fmt.Errorf("%w: %s/%s", ErrInvalidAction, t, a)
}

// DefaultAction returns the implied action for types that have exactly one.
func DefaultAction(t Type) (Action, bool) {
	if t == TypeTemperature {
		return ActionDetect, true
	}
	return "", false
}

// Name returns the Chinese display name of the device type.
func (t Type) Name() string {
	switch t {
	case TypeLight:
		return "灯"
	case TypeAC:
		return "空调"
	case TypeWindow:
		return "窗户"
	case TypeTemperature:
		return "温度检测"
	}
	return string(t)
}

// Noun returns the short name used when referring back to a device in
// conversation, e.g. "温度" rather than "温度检测".
func (t Type) Noun() string {
	if t == TypeTemperature {
		return "温度"
	}
	return t.Name()
}

// Verb returns the display verb for the action.
func (a Action) Verb() string {
	switch a {
	case ActionOpen:
		return "打开"
	case ActionClose:
		return "关闭"
	case ActionDetect:
		return "检测"
	}
	return string(a)
}

// Command is a validated, executable device instruction.
type Command struct {
	Type      Type      `json:"type"`
	Device    string    `json:"device,omitempty"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds a validated Command stamped with now.
func New(t Type, device string, a Action, now time.Time) (Command, error) {
	c := Command{Type: t, Device: strings.TrimSpace(device), Action: a, Timestamp: now}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Validate checks the type/action pair.
func (c Command) Validate() error {
	return ValidateAction(c.Type, c.Action)
}

// Target returns the device name if set, otherwise the type's display name.
func (c Command) Target() string {
	if c.Device != "" {
		return c.Device
	}
	return c.Type.Name()
}

// Message renders the command for the user, e.g. "打开客厅灯".
func (c Command) Message() string {
	if c.Type == TypeTemperature {
		return "执行温度检测"
	}
	return c.Action.Verb() + c.Target()
}

// Feedback renders the simulated device response to the command.
func (c Command) Feedback() string {
	switch {
	case c.Type == TypeTemperature:
		return "当前温度：25°C（模拟数据）"
	case c.Action == ActionOpen:
		return "已经打开了" + c.Target()
	case c.Action == ActionClose:
		return "已经关闭了" + c.Target()
	}
	return "未知操作：" + c.Action.Verb() + c.Target()
}

func (c Command) String() string {
	if c.Device != "" {
		return fmt.Sprintf("%s(%s) %s", c.Type, c.Device, c.Action)
	}
	return fmt.Sprintf("%s %s", c.Type, c.Action)
}

// legacyLayout is the zone-less ISO-8601 form written by older publishers.
const legacyLayout = "2006-01-02T15:04:05.999999"

// UnmarshalJSON accepts RFC 3339 timestamps as well as the zone-less form.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      Type   `json:"type"`
		Device    string `json:"device"`
		Action    Action `json:"action"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Type, c.Device, c.Action = raw.Type, raw.Device, raw.Action
	c.Timestamp = time.Time{}
	if raw.Timestamp == "" {
		return nil
	}

	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		ts, err = time.ParseInLocation(legacyLayout, raw.Timestamp, time.Local)
		if err != nil {
			return fmt.Errorf("invalid command timestamp %q: %w", raw.Timestamp, err)
		}
	}
	c.Timestamp = ts
	return nil
}

// Decode parses and validates a JSON command payload.
func Decode(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// PotentialCommand is a candidate interpretation of an implicit request.
type PotentialCommand struct {
	Type       Type   `json:"type"`
	Action     Action `json:"action"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Validate checks the type/action pair.
func (p PotentialCommand) Validate() error {
	return ValidateAction(p.Type, p.Action)
}

// Command materialises the candidate as an executable command.
func (p PotentialCommand) Command(now time.Time) Command {
	return Command{Type: p.Type, Action: p.Action, Timestamp: now}
}

// Describe returns the suggestion, or a rendering of the command when the
// model did not provide one.
func (p PotentialCommand) Describe() string {
	if s := strings.TrimSpace(p.Suggestion); s != "" {
		return s
	}
	return p.Command(time.Time{}).Message()
}
