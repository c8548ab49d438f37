package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
)

const commandTopic = "smart_home/command"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openBroker(t *testing.T, path string, opts ...Option) *Broker {
	t.Helper()
	opts = append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	b, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func logPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "broker", "messages.jsonl")
}

func nextWithin(t *testing.T, s *Subscription, d time.Duration) (Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Next(ctx)
}

func readRecords(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), "line %q", sc.Text())
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestPublishThenReplayFromStart(t *testing.T) {
	b := openBroker(t, logPath(t))
	ctx := context.Background()

	const n = 5
	for i := range n {
		msg, err := b.Publish(ctx, commandTopic, fmt.Appendf(nil, `{"i":%d}`, i))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), msg.Seq)
	}

	s, err := b.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)

	for i := range n {
		msg, err := nextWithin(t, s, time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), msg.Seq)
		assert.Equal(t, commandTopic, msg.Topic)
		assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(msg.Payload))
	}
}

func TestSubscribeSeesOnlyLaterRecords(t *testing.T) {
	b := openBroker(t, logPath(t))
	ctx := context.Background()

	_, err := b.Publish(ctx, commandTopic, []byte("p1"))
	require.NoError(t, err)

	s, err := b.Subscribe(commandTopic)
	require.NoError(t, err)

	_, err = b.Publish(ctx, commandTopic, []byte("p2"))
	require.NoError(t, err)

	msg, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "p2", string(msg.Payload))
	assert.Equal(t, int64(2), msg.Seq)

	_, err = nextWithin(t, s, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryNextStopsAtEnd(t *testing.T) {
	b := openBroker(t, logPath(t))
	ctx := context.Background()

	for _, p := range []string{"a", "b"} {
		_, err := b.Publish(ctx, commandTopic, []byte(p))
		require.NoError(t, err)
	}

	s, err := b.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)

	var got []string
	for {
		msg, ok, err := s.TryNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(msg.Payload))
	}
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, s.Close())
	_, _, err = s.TryNext()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublishersAcrossHandles(t *testing.T) {
	path := logPath(t)

	const handles, writersPerHandle, perWriter = 4, 2, 25
	brokers := make([]*Broker, handles)
	for i := range brokers {
		brokers[i] = openBroker(t, path, WithLockTimeout(10*time.Second))
	}

	var wg sync.WaitGroup
	errs := make(chan error, handles*writersPerHandle*perWriter)
	for h, b := range brokers {
		for w := range writersPerHandle {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perWriter {
					payload := fmt.Appendf(nil, "h%d-w%d-%d", h, w, i)
					if _, err := b.Publish(context.Background(), commandTopic, payload); err != nil {
						errs <- err
					}
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records := readRecords(t, path)
	require.Len(t, records, handles*writersPerHandle*perWriter)

	seen := make(map[int64]bool, len(records))
	payloads := make(map[string]bool, len(records))
	for _, r := range records {
		assert.False(t, seen[r.Seq], "duplicate seq %d", r.Seq)
		seen[r.Seq] = true
		payloads[r.Payload] = true
	}
	assert.Len(t, payloads, len(records))
}

func TestTopicFiltering(t *testing.T) {
	b := openBroker(t, logPath(t), WithWatch(false))
	ctx := context.Background()

	exact, err := b.Subscribe(commandTopic)
	require.NoError(t, err)
	wildcard, err := b.Subscribe("smart_home/#")
	require.NoError(t, err)

	for _, tp := range []string{"other/command", commandTopic, "smart_home/feedback"} {
		_, err := b.Publish(ctx, tp, []byte(tp))
		require.NoError(t, err)
	}

	msg, err := nextWithin(t, exact, time.Second)
	require.NoError(t, err)
	assert.Equal(t, commandTopic, msg.Topic)
	_, err = nextWithin(t, exact, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var topics []string
	for range 2 {
		msg, err := nextWithin(t, wildcard, time.Second)
		require.NoError(t, err)
		topics = append(topics, msg.Topic)
	}
	assert.Equal(t, []string{commandTopic, "smart_home/feedback"}, topics)
}

func TestCorruptAndPartialRecords(t *testing.T) {
	path := logPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	content := `{"seq":1,"topic":"smart_home/command","payload":"a","timestamp":"2025-06-01T12:00:00Z"}` + "\n" +
		"not json at all\n" +
		"\n" +
		`{"seq":7,"topic":"smart_home/command","payload":"b","timestamp":"2025-06-01T12:00:01Z"}` + "\n" +
		`{"seq":8,"topic":"smart_home/comm`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	b := openBroker(t, path)
	corruptBefore := testutil.ToFloat64(metrics.BrokerCorruptRecordTotal)

	s, err := b.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)

	first, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	second, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string{string(first.Payload), string(second.Payload)})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BrokerCorruptRecordTotal)-corruptBefore)

	// The partial tail is not consumed.
	_, err = nextWithin(t, s, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, second.Offset, s.Cursor())

	// The next append terminates the torn line and continues the sequence.
	msg, err := b.Publish(context.Background(), commandTopic, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), msg.Seq)

	third, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c", string(third.Payload))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BrokerCorruptRecordTotal)-corruptBefore)
}

func TestPublishLockTimeout(t *testing.T) {
	path := logPath(t)
	b := openBroker(t, path, WithLockTimeout(50*time.Millisecond))

	other := flock.New(path + ".lock")
	require.NoError(t, other.Lock())
	defer other.Close()

	before := testutil.ToFloat64(metrics.BrokerPublishTotal.WithLabelValues("lock_timeout"))

	_, err := b.Publish(context.Background(), commandTopic, []byte("x"))
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BrokerPublishTotal.WithLabelValues("lock_timeout"))-before)

	require.NoError(t, other.Unlock())
	msg, err := b.Publish(context.Background(), commandTopic, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestPublishCanceledIsNotLockTimeout(t *testing.T) {
	b := openBroker(t, logPath(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold the in-process slot so Publish has to wait on ctx.
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	_, err := b.Publish(ctx, commandTopic, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestResumeFromCursor(t *testing.T) {
	path := logPath(t)
	b := openBroker(t, path)
	ctx := context.Background()

	for _, p := range []string{"one", "two", "three"} {
		_, err := b.Publish(ctx, commandTopic, []byte(p))
		require.NoError(t, err)
	}

	s, err := b.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)
	_, err = nextWithin(t, s, time.Second)
	require.NoError(t, err)
	two, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)

	cursor := s.Cursor()
	assert.Equal(t, two.Offset, cursor)
	require.NoError(t, s.Close())

	resumed, err := b.Subscribe(commandTopic, FromOffset(cursor))
	require.NoError(t, err)
	msg, err := nextWithin(t, resumed, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "three", string(msg.Payload))
	assert.Equal(t, int64(3), msg.Seq)
}

func TestShrunkLogResetsCursor(t *testing.T) {
	path := logPath(t)
	b := openBroker(t, path, WithWatch(false))
	ctx := context.Background()

	for range 3 {
		_, err := b.Publish(ctx, commandTopic, []byte("old"))
		require.NoError(t, err)
	}
	s, err := b.Subscribe(commandTopic)
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 0))
	msg, err := b.Publish(ctx, commandTopic, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.Seq, "seq stays monotonic for this handle")

	got, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got.Payload))
}

func TestPublishFollowsDeletedLog(t *testing.T) {
	path := logPath(t)
	b := openBroker(t, path, WithWatch(false))
	ctx := context.Background()

	for range 2 {
		_, err := b.Publish(ctx, commandTopic, []byte("old"))
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(path))
	msg, err := b.Publish(ctx, commandTopic, []byte("after"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), msg.Seq)

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "after", recs[0].Payload)

	other := openBroker(t, path, WithWatch(false))
	s, err := other.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)

	got, err := nextWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "after", string(got.Payload))
}

func TestPublishFollowsRotatedLog(t *testing.T) {
	path := logPath(t)
	b := openBroker(t, path, WithWatch(false))
	ctx := context.Background()

	_, err := b.Publish(ctx, commandTopic, []byte("old"))
	require.NoError(t, err)

	require.NoError(t, os.Rename(path, path+".1"))
	rotated := `{"seq":7,"topic":"` + commandTopic + `","payload":"moved","timestamp":"2025-06-01T12:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(rotated), 0o644))

	msg, err := b.Publish(ctx, commandTopic, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), msg.Seq)

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[1].Payload)
	assert.Len(t, readRecords(t, path+".1"), 1)
}

func TestCommandsIterator(t *testing.T) {
	b := openBroker(t, logPath(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	light, err := command.New(command.TypeLight, "", command.ActionOpen, ts)
	require.NoError(t, err)
	_, err = b.PublishCommand(ctx, commandTopic, light)
	require.NoError(t, err)
	_, err = b.Publish(ctx, commandTopic, []byte(`{"type":"fridge"}`))
	require.NoError(t, err)

	s, err := b.Subscribe(commandTopic, FromStart())
	require.NoError(t, err)

	var (
		cmds []command.Command
		errs []error
	)
	for cmd, err := range s.Commands(ctx) {
		if err != nil {
			errs = append(errs, err)
		} else {
			cmds = append(cmds, cmd)
		}
		if len(cmds)+len(errs) == 2 {
			break
		}
	}

	require.Len(t, cmds, 1)
	assert.Equal(t, command.TypeLight, cmds[0].Type)
	assert.True(t, ts.Equal(cmds[0].Timestamp))
	require.Len(t, errs, 1)
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	b, err := Open(logPath(t))
	require.NoError(t, err)

	s, err := b.Subscribe(commandTopic)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		done <- err
	}()

	require.NoError(t, b.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	_, err = b.Publish(context.Background(), commandTopic, []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.Subscribe(commandTopic)
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, b.Close())
}

func TestEmptyTopicRejected(t *testing.T) {
	b := openBroker(t, logPath(t))

	_, err := b.Publish(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrEmptyTopic)
	_, err = b.Subscribe("")
	require.ErrorIs(t, err, ErrEmptyTopic)
}
