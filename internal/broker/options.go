package broker

import (
	"time"
)

const (
	// DefaultLockTimeout bounds how long Publish waits for the log lock.
	DefaultLockTimeout = 5 * time.Second
	// DefaultPollInterval is how often a subscription re-reads the log when
	// no file notification arrives.
	DefaultPollInterval = 200 * time.Millisecond

	defaultRetryDelay = 10 * time.Millisecond
	defaultBatchSize  = 256
)

type config struct {
	lockTimeout  time.Duration
	retryDelay   time.Duration
	pollInterval time.Duration
	syncWrites   bool
	watch        bool
	now          func() time.Time
}

func defaultConfig() config {
	return config{
		lockTimeout:  DefaultLockTimeout,
		retryDelay:   defaultRetryDelay,
		pollInterval: DefaultPollInterval,
		watch:        true,
		now:          time.Now,
	}
}

// Option configures a Broker.
type Option func(*config)

// WithLockTimeout bounds lock acquisition in Publish.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithPollInterval sets the default poll interval of new subscriptions.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSyncWrites fsyncs the log after every append.
func WithSyncWrites(sync bool) Option {
	return func(c *config) { c.syncWrites = sync }
}

// WithWatch enables or disables file notifications for subscriptions.
// Polling stays active either way.
func WithWatch(watch bool) Option {
	return func(c *config) { c.watch = watch }
}

// WithClock overrides the clock used to timestamp records.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

type subscribeConfig struct {
	offset       int64
	fromEnd      bool
	pollInterval time.Duration
}

// SubscribeOption configures a Subscription.
type SubscribeOption func(*subscribeConfig)

// FromStart replays the whole log before following new records.
func FromStart() SubscribeOption {
	return FromOffset(0)
}

// FromOffset resumes at a byte offset previously returned by Cursor.
func FromOffset(offset int64) SubscribeOption {
	return func(c *subscribeConfig) {
		c.fromEnd = false
		c.offset = max(offset, 0)
	}
}

// WithSubscriptionPoll overrides the poll interval for one subscription.
func WithSubscriptionPoll(d time.Duration) SubscribeOption {
	return func(c *subscribeConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}
