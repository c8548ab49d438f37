package homepeer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/homepeer/internal/assistant"
	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/options"
)

func localConfig(t *testing.T) *Config {
	t.Helper()
	bo := options.NewBrokerOptions()
	bo.Path = filepath.Join(t.TempDir(), "messages.jsonl")
	bo.PollInterval = 10 * time.Millisecond

	ho := options.NewHttpOptions()
	ho.Addr = "127.0.0.1:0"

	return &Config{
		ModelOptions:    options.NewModelOptions(),
		BrokerOptions:   bo,
		MqttOptions:     options.NewMqttOptions(),
		DispatchOptions: options.NewDispatchOptions(),
		HttpOptions:     ho,
		HistorySize:     10,
	}
}

var lightModel = model.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "用户输入：打开客厅灯") {
		return `{"commands":[{"type":"light","device":"客厅灯","action":"开"}],"potential":[]}`, nil
	}
	return `{"commands":[],"potential":[]}`, nil
})

func TestRuntimeDispatchesToLocalBroker(t *testing.T) {
	cfg := localConfig(t)
	tr, err := cfg.NewTransport(context.Background(), "test")
	require.NoError(t, err)
	require.NotNil(t, tr.Broker)
	rt := cfg.newRuntime(lightModel, tr)
	t.Cleanup(func() { _ = rt.Close() })

	reply, err := rt.Assistant.Handle(context.Background(), assistant.Request{Message: "打开客厅灯"})
	require.NoError(t, err)
	assert.Equal(t, assistant.ReplySuccess, reply.Kind)

	light, _ := rt.Tracker.Get(command.TypeLight)
	assert.Equal(t, "on", light.State)

	sub, err := tr.Broker.Subscribe(cfg.Topics().Command(), broker.FromStart())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	c, err := msg.Command()
	require.NoError(t, err)
	assert.Equal(t, "客厅灯", c.Device)
}

func TestServerFollowsOtherPublishers(t *testing.T) {
	cfg := localConfig(t)
	tr, err := cfg.NewTransport(context.Background(), "test")
	require.NoError(t, err)
	srv := cfg.newServer(cfg.newRuntime(lightModel, tr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	other, err := broker.Open(cfg.BrokerOptions.Path)
	require.NoError(t, err)
	defer other.Close()

	c, err := command.New(command.TypeWindow, "", command.ActionOpen, time.Now())
	require.NoError(t, err)

	// The follower subscribes asynchronously and only sees later records.
	require.Eventually(t, func() bool {
		if _, err := other.PublishCommand(context.Background(), cfg.Topics().Command(), c); err != nil {
			return false
		}
		w, _ := srv.runtime.Tracker.Get(command.TypeWindow)
		return w.State == "open"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAutoModeFallsBackToLocal(t *testing.T) {
	cfg := localConfig(t)
	cfg.DispatchOptions.Mode = options.DispatchAuto
	cfg.MqttOptions.Broker = "tcp://127.0.0.1:1"
	cfg.MqttOptions.ConnectTimeout = 200 * time.Millisecond

	tr, err := cfg.NewTransport(context.Background(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.NotNil(t, tr.Broker)
	assert.Equal(t, "local", tr.Publisher.Transport())
	assert.NoError(t, tr.Ready(context.Background()))
}
