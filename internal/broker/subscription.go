package broker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/homepeer/internal/pkg/metrics"
	"github.com/autopeer-io/homepeer/pkg/command"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/mqtt/topic"
)

type pendingMessage struct {
	start int64
	msg   Message
}

// Subscription tails the log for one topic filter. Next must not be called
// concurrently; Cursor and Close may be called from any goroutine.
type Subscription struct {
	broker *Broker
	filter string
	path   string
	poll   time.Duration

	mu      sync.Mutex
	file    *os.File
	cursor  int64
	pending []pendingMessage

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once

	logger log.Logger
}

func newSubscription(b *Broker, filter string, cfg subscribeConfig) (*Subscription, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open broker log: %w", err)
	}

	start := cfg.offset
	if cfg.fromEnd {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat broker log: %w", err)
		}
		start = info.Size()
	}

	s := &Subscription{
		broker: b,
		filter: filter,
		path:   b.path,
		poll:   cfg.pollInterval,
		file:   f,
		cursor: start,
		done:   make(chan struct{}),
		logger: log.WithName("broker").WithValues("path", b.path, "topic", filter),
	}

	if b.cfg.watch {
		s.watcher = s.watch()
	}
	return s, nil
}

// watch returns nil when notifications are unavailable; polling covers that case.
func (s *Subscription) watch() *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("File notifications unavailable, polling only", "error", err)
		return nil
	}
	// Watch the directory so a replaced log is noticed too.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		s.logger.Warn("Cannot watch log directory, polling only", "error", err)
		return nil
	}
	return w
}

// Topic returns the subscription's topic filter.
func (s *Subscription) Topic() string { return s.filter }

// Cursor returns the byte offset of the first record not yet returned by
// Next. Subscribing with FromOffset(Cursor()) resumes without loss.
func (s *Subscription) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return s.pending[0].start
	}
	return s.cursor
}

// Next blocks until a matching record is available, ctx is done or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		msg, ok, err := s.take()
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}

		if err := s.wait(ctx); err != nil {
			return Message{}, err
		}
	}
}

// TryNext returns the next matching record without waiting. ok is false
// once the subscription has caught up with the log.
func (s *Subscription) TryNext() (msg Message, ok bool, err error) {
	return s.take()
}

// All iterates over matching records until ctx is done or the subscription
// is closed. Read errors are yielded once and end the iteration.
func (s *Subscription) All(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return
				}
				yield(Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Commands iterates over matching records decoded as commands. A payload
// that is not a command is yielded as an error and iteration continues.
func (s *Subscription) Commands(ctx context.Context) iter.Seq2[command.Command, error] {
	return func(yield func(command.Command, error) bool) {
		for msg, err := range s.All(ctx) {
			if err != nil {
				yield(command.Command{}, err)
				return
			}
			cmd, err := msg.Command()
			if err != nil {
				err = fmt.Errorf("record %d: %w", msg.Seq, err)
			}
			if !yield(cmd, err) {
				return
			}
		}
	}
}

func (s *Subscription) take() (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return Message{}, false, ErrClosed
	default:
	}

	if len(s.pending) == 0 {
		if err := s.fill(); err != nil {
			return Message{}, false, err
		}
	}
	if len(s.pending) == 0 {
		return Message{}, false, nil
	}

	p := s.pending[0]
	s.pending = s.pending[1:]
	return p.msg, true, nil
}

// fill reads complete lines past the cursor. Called with mu held.
func (s *Subscription) fill() error {
	if err := s.reopenIfReplaced(); err != nil {
		return err
	}

	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat broker log: %w", err)
	}
	size := info.Size()

	if size < s.cursor {
		s.logger.Warn("Log shrank below cursor, restarting from the beginning", "size", size, "cursor", s.cursor)
		s.cursor = 0
	}
	if size == s.cursor {
		return nil
	}

	br := bufio.NewReader(io.NewSectionReader(s.file, s.cursor, size-s.cursor))
	for len(s.pending) < defaultBatchSize {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// An incomplete tail is left for the next read.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read broker log: %w", err)
		}

		start := s.cursor
		s.cursor += int64(len(line))
		s.consume(line, start)
	}
	return nil
}

func (s *Subscription) consume(line []byte, start int64) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	rec, err := decodeRecord(line)
	if err != nil {
		metrics.BrokerCorruptRecordTotal.Inc()
		s.logger.Warn("Skipping corrupt record", "offset", start, "error", err)
		return
	}
	if !topic.Match(s.filter, rec.Topic) {
		return
	}

	s.pending = append(s.pending, pendingMessage{
		start: start,
		msg: Message{
			Seq:       rec.Seq,
			Topic:     rec.Topic,
			Payload:   []byte(rec.Payload),
			Timestamp: rec.Timestamp,
			Offset:    s.cursor,
		},
	})
}

// reopenIfReplaced follows the path when the log was replaced by a new file.
func (s *Subscription) reopenIfReplaced() error {
	onDisk, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat broker log: %w", err)
	}
	current, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat broker log: %w", err)
	}
	if os.SameFile(onDisk, current) {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("reopen broker log: %w", err)
	}
	_ = s.file.Close()
	s.file = f
	s.cursor = 0
	s.pending = nil
	s.logger.Info("Log file replaced, reading the new file from the beginning")
	return nil
}

func (s *Subscription) wait(ctx context.Context) error {
	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if s.watcher != nil {
		events, errs = s.watcher.Events, s.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrClosed
		case <-timer.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == s.path && ev.Op != fsnotify.Chmod {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("File watcher error", "error", err)
		}
	}
}

// Close stops the subscription. Blocked Next calls return ErrClosed.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}

		s.mu.Lock()
		err = errors.Join(err, s.file.Close())
		s.pending = nil
		s.mu.Unlock()

		s.broker.forget(s)
	})
	return err
}
