// Package broker emulates a topic based message broker on top of a single
// append-only JSON lines file. Any number of processes may publish to and
// tail the same file: writers serialise on an advisory lock held for one
// append, readers never lock.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
)

var (
	// ErrLockTimeout is returned when Publish could not take the log lock in time.
	ErrLockTimeout = errors.New("broker lock timeout")

	// ErrClosed is returned by operations on a closed Broker or Subscription.
	ErrClosed = errors.New("broker closed")

	// ErrEmptyTopic is returned when publishing or subscribing without a topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
)

// Broker is a handle on one shared log file. It is safe for concurrent use.
type Broker struct {
	path string
	cfg  config

	// sem serialises appends within this process; flock only excludes
	// other processes.
	sem  chan struct{}
	lock *flock.Flock
	file *os.File

	// Guarded by sem.
	lastSeq int64
	scanned int64

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}

	logger log.Logger
}

// Open opens or creates the log at path.
func Open(path string, opts ...Option) (*Broker, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create broker directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open broker log: %w", err)
	}

	return &Broker{
		path:   path,
		cfg:    cfg,
		sem:    make(chan struct{}, 1),
		lock:   flock.New(path + ".lock"),
		file:   f,
		subs:   make(map[*Subscription]struct{}),
		logger: log.WithName("broker").WithValues("path", path),
	}, nil
}

// Path returns the log file path.
func (b *Broker) Path() string { return b.path }

// Publish appends one record and returns it as stored.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) (Message, error) {
	if topic == "" {
		return Message{}, ErrEmptyTopic
	}
	if b.isClosed() {
		return Message{}, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.lockTimeout)
	defer cancel()

	start := time.Now()
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return Message{}, b.lockFailed(ctx, start, ctx.Err())
	}
	defer func() { <-b.sem }()

	// Close may have won the race for sem.
	if b.isClosed() {
		return Message{}, ErrClosed
	}

	locked, err := b.lock.TryLockContext(ctx, b.cfg.retryDelay)
	if err != nil || !locked {
		return Message{}, b.lockFailed(ctx, start, err)
	}
	metrics.BrokerLockWait.Observe(time.Since(start).Seconds())
	defer func() {
		if err := b.lock.Unlock(); err != nil {
			b.logger.Error(err, "Failed to release log lock")
		}
	}()

	msg, err := b.appendLocked(topic, payload)
	if err != nil {
		metrics.BrokerPublishTotal.WithLabelValues("failed").Inc()
		return Message{}, err
	}

	metrics.BrokerPublishTotal.WithLabelValues("success").Inc()
	b.logger.Debug("Record appended", "seq", msg.Seq, "topic", topic)
	return msg, nil
}

// PublishCommand appends cmd encoded as JSON.
func (b *Broker) PublishCommand(ctx context.Context, topic string, cmd command.Command) (Message, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Message{}, fmt.Errorf("encode command: %w", err)
	}
	return b.Publish(ctx, topic, payload)
}

func (b *Broker) lockFailed(ctx context.Context, start time.Time, err error) error {
	metrics.BrokerLockWait.Observe(time.Since(start).Seconds())

	// Caller cancellation is not a lock timeout.
	if errors.Is(context.Cause(ctx), context.Canceled) {
		metrics.BrokerPublishTotal.WithLabelValues("failed").Inc()
		return context.Canceled
	}

	metrics.BrokerPublishTotal.WithLabelValues("lock_timeout").Inc()
	b.logger.Warn("Timed out waiting for log lock", "timeout", b.cfg.lockTimeout)
	if err == nil {
		err = context.DeadlineExceeded
	}
	return fmt.Errorf("%w after %s: %w", ErrLockTimeout, b.cfg.lockTimeout, err)
}

// appendLocked must be called with both sem and the file lock held.
func (b *Broker) appendLocked(topic string, payload []byte) (Message, error) {
	if err := b.reopenIfReplaced(); err != nil {
		return Message{}, err
	}

	info, err := b.file.Stat()
	if err != nil {
		return Message{}, fmt.Errorf("stat broker log: %w", err)
	}
	size := info.Size()

	if size < b.scanned {
		b.logger.Warn("Log shrank since last append, rescanning", "size", size, "scanned", b.scanned)
		b.scanned = 0
	}

	if size > b.scanned {
		maxSeq, torn, err := scanMaxSeq(io.NewSectionReader(b.file, b.scanned, size-b.scanned))
		if err != nil {
			return Message{}, fmt.Errorf("scan broker log: %w", err)
		}
		b.lastSeq = max(b.lastSeq, maxSeq)

		if torn {
			// Terminate a partial record left by a crashed writer so ours
			// starts on its own line.
			if _, err := b.file.Write([]byte{'\n'}); err != nil {
				return Message{}, fmt.Errorf("terminate torn record: %w", err)
			}
			size++
		}
	}

	rec := record{
		Seq:       b.lastSeq + 1,
		Topic:     topic,
		Payload:   string(payload),
		Timestamp: b.cfg.now(),
	}
	line, err := encodeRecord(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode record: %w", err)
	}

	n, err := b.file.Write(line)
	if err != nil {
		// scanned stays behind a short write so the next append sees the
		// torn tail and terminates it.
		return Message{}, fmt.Errorf("append record: %w", err)
	}
	if b.cfg.syncWrites {
		if err := b.file.Sync(); err != nil {
			return Message{}, fmt.Errorf("sync broker log: %w", err)
		}
	}

	b.lastSeq = rec.Seq
	b.scanned = size + int64(n)

	return Message{
		Seq:       rec.Seq,
		Topic:     rec.Topic,
		Payload:   payload,
		Timestamp: rec.Timestamp,
		Offset:    b.scanned,
	}, nil
}

// Subscribe starts tailing records whose topic matches filter. By default
// only records appended after this call are delivered.
func (b *Broker) Subscribe(filter string, opts ...SubscribeOption) (*Subscription, error) {
	if filter == "" {
		return nil, ErrEmptyTopic
	}

	cfg := subscribeConfig{fromEnd: true, pollInterval: b.cfg.pollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s, err := newSubscription(b, filter, cfg)
	if err != nil {
		return nil, err
	}
	b.subs[s] = struct{}{}
	return s, nil
}

func (b *Broker) forget(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

func (b *Broker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close closes every open subscription and the log. In-flight publishes
// finish first.
// reopenIfReplaced switches to a fresh handle when the log was deleted or
// rotated away since the last append, so records are not written to an
// unlinked file. Called with sem and the file lock held.
func (b *Broker) reopenIfReplaced() error {
	current, err := b.file.Stat()
	if err != nil {
		return fmt.Errorf("stat broker log: %w", err)
	}
	onDisk, err := os.Stat(b.path)
	switch {
	case err == nil && os.SameFile(onDisk, current):
		return nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat broker log: %w", err)
	}

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen broker log: %w", err)
	}
	if err := b.file.Close(); err != nil {
		b.logger.Error(err, "Failed to close replaced log")
	}
	b.logger.Warn("Log was replaced, reopening", "lastSeq", b.lastSeq)

	// lastSeq is kept so sequence numbers stay monotonic for this handle.
	b.file = f
	b.scanned = 0
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}

	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	return errors.Join(b.file.Close(), b.lock.Close())
}
