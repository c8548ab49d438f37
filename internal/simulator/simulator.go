// Package simulator plays the devices: it prints every command received on
// the command topic together with the response a real device would give.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/internal/home"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/mqtt/topic"
)

// Feedback is published on the feedback topic for every executed command.
type Feedback struct {
	Command   command.Command `json:"command"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

const rule = "============================================================"

// Simulator is safe for concurrent use; output blocks are not interleaved.
type Simulator struct {
	mu  sync.Mutex
	out io.Writer

	topics   *topic.Builder
	feedback dispatch.Publisher
	devices  *home.Tracker
	now      func() time.Time
	logger   log.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithFeedback publishes a Feedback record for each executed command.
func WithFeedback(pub dispatch.Publisher) Option {
	return func(s *Simulator) { s.feedback = pub }
}

// WithClock overrides the clock used for output and feedback.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New returns a Simulator writing to out.
func New(out io.Writer, topics *topic.Builder, opts ...Option) *Simulator {
	s := &Simulator{
		out:     out,
		topics:  topics,
		devices: home.NewTracker(),
		now:     time.Now,
		logger:  log.WithName("simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Devices returns the simulated device states.
func (s *Simulator) Devices() *home.Tracker { return s.devices }

// Run handles commands from sub until ctx is done.
func (s *Simulator) Run(ctx context.Context, sub dispatch.Subscriber) error {
	s.logger.Info("Device simulator started", "topic", s.topics.Command())

	s.mu.Lock()
	fmt.Fprintf(s.out, "%s\n设备模拟器已启动，主题: %s\n等待接收智能家居指令消息...\n%s\n", rule, s.topics.Command(), rule)
	s.mu.Unlock()

	err := sub.Subscribe(ctx, s.topics.Command(), s.Handle)
	s.logger.Info("Device simulator stopped")
	return err
}

// Handle executes one command message. It has the signature of an MQTT
// message handler.
func (s *Simulator) Handle(ctx context.Context, msgTopic string, payload []byte) {
	now := s.now()
	cmd, err := command.Decode(payload)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n[%s] 收到新消息\n", rule, now.Format(time.DateTime))
	fmt.Fprintf(&b, "主题: %s\n消息内容:\n%s\n", msgTopic, indent(payload))
	if err != nil {
		fmt.Fprintf(&b, "指令解析失败: %v\n%s\n", err, rule)
		s.write(b.String())
		s.logger.Warn("Ignoring malformed command", "topic", msgTopic, "error", err)
		return
	}

	s.devices.Apply(cmd)
	text := cmd.Feedback()
	fmt.Fprintf(&b, "指令解析: %s%s\n设备反馈: %s\n%s\n", cmd.Action, cmd.Target(), text, rule)
	s.write(b.String())

	if s.feedback != nil {
		s.publishFeedback(ctx, Feedback{Command: cmd, Text: text, Timestamp: now})
	}
}

func (s *Simulator) publishFeedback(ctx context.Context, fb Feedback) {
	payload, err := json.Marshal(fb)
	if err != nil {
		s.logger.Error(err, "Failed to encode feedback")
		return
	}
	if err := s.feedback.Publish(ctx, s.topics.Feedback(), payload); err != nil {
		s.logger.Error(err, "Failed to publish feedback", "command", fb.Command.String())
	}
}

func (s *Simulator) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, text)
}

func indent(payload []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}
