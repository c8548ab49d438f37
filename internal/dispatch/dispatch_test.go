package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/options"
)

const commandTopic = "smart_home/command"

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	transport string
	fail      map[int]error
	calls     int
	payloads  [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.calls++
	if err := p.fail[p.calls]; err != nil {
		return err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) Transport() string { return p.transport }

func mustCommand(t *testing.T, typ command.Type, action command.Action) command.Command {
	t.Helper()
	c, err := command.New(typ, "", action, now)
	require.NoError(t, err)
	return c
}

func TestDispatchThroughLocalBroker(t *testing.T) {
	b, err := broker.Open(filepath.Join(t.TempDir(), "messages.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var applied []command.Command
	d := New(NewLocalPublisher(b), commandTopic, WithObserver(func(c command.Command) {
		applied = append(applied, c)
	}))
	assert.Equal(t, TransportLocal, d.Transport())

	light := mustCommand(t, command.TypeLight, command.ActionOpen)
	temp := mustCommand(t, command.TypeTemperature, command.ActionDetect)
	before := testutil.ToFloat64(metrics.CommandDispatchedTotal.WithLabelValues(TransportLocal, "success", string(command.TypeLight)))

	require.NoError(t, d.Dispatch(context.Background(), light, temp))
	assert.Equal(t, []command.Command{light, temp}, applied)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandDispatchedTotal.WithLabelValues(TransportLocal, "success", string(command.TypeLight)))-before)

	sub, err := b.Subscribe(commandTopic, broker.FromStart())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, want := range []command.Command{light, temp} {
		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		got, err := msg.Command()
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Action, got.Action)
	}
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	pub := &recordingPublisher{transport: TransportMQTT, fail: map[int]error{1: boom}}

	var applied int
	d := New(pub, commandTopic, WithObserver(func(command.Command) { applied++ }))

	err := d.Dispatch(context.Background(),
		mustCommand(t, command.TypeAC, command.ActionOpen),
		mustCommand(t, command.TypeWindow, command.ActionClose),
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, pub.calls)
	assert.Len(t, pub.payloads, 1)
	assert.Equal(t, 1, applied)

	got, err := command.Decode(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, command.TypeWindow, got.Type)
}

func TestFailedCommands(t *testing.T) {
	boom := errors.New("boom")
	pub := &recordingPublisher{transport: TransportLocal, fail: map[int]error{2: boom, 3: boom}}
	d := New(pub, commandTopic)

	light := mustCommand(t, command.TypeLight, command.ActionOpen)
	window := mustCommand(t, command.TypeWindow, command.ActionClose)
	ac := mustCommand(t, command.TypeAC, command.ActionOpen)

	err := d.Dispatch(context.Background(), light, window, ac)
	require.Error(t, err)

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, window, ce.Command)
	assert.Equal(t, []command.Command{window, ac}, FailedCommands(err))
	assert.Empty(t, FailedCommands(nil))
	assert.Empty(t, FailedCommands(boom))
}

func TestDispatchRejectsInvalidCommand(t *testing.T) {
	pub := &recordingPublisher{transport: TransportLocal}
	d := New(pub, commandTopic)

	err := d.Dispatch(context.Background(), command.Command{Type: command.TypeTemperature, Action: command.ActionOpen, Timestamp: now})
	require.ErrorIs(t, err, command.ErrInvalidAction)
	assert.Zero(t, pub.calls)
}

func TestSelect(t *testing.T) {
	local := &recordingPublisher{transport: TransportLocal}
	remote := &recordingPublisher{transport: TransportMQTT}
	unreachable := errors.New("connection refused")

	okLocal := func(context.Context) (Publisher, error) { return local, nil }
	okRemote := func(context.Context) (Publisher, error) { return remote, nil }
	badRemote := func(context.Context) (Publisher, error) { return nil, unreachable }

	tests := []struct {
		name    string
		mode    string
		remote  Connector
		want    Publisher
		wantErr error
	}{
		{"local", options.DispatchLocal, badRemote, local, nil},
		{"mqtt", options.DispatchMQTT, okRemote, remote, nil},
		{"mqtt unreachable", options.DispatchMQTT, badRemote, nil, unreachable},
		{"auto prefers mqtt", options.DispatchAuto, okRemote, remote, nil},
		{"auto falls back", options.DispatchAuto, badRemote, local, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(context.Background(), tt.mode, okLocal, tt.remote)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}

	_, err := Select(context.Background(), "pigeon", okLocal, okRemote)
	require.Error(t, err)
}
