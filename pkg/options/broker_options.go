package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BrokerOptions)(nil)

// BrokerOptions configures the file backed local broker.
type BrokerOptions struct {
	// Path of the shared JSON lines log. The lock file is Path + ".lock".
	Path string `json:"path" mapstructure:"path"`

	LockTimeout  time.Duration `json:"lock-timeout" mapstructure:"lock-timeout"`
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// Sync fsyncs the log after every append.
	Sync bool `json:"sync" mapstructure:"sync"`
}

// NewBrokerOptions creates a BrokerOptions with default values.
func NewBrokerOptions() *BrokerOptions {
	return &BrokerOptions{
		Path:         ".mqtt_messages.jsonl",
		LockTimeout:  5 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

// Validate checks the log path and durations.
func (o *BrokerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Path == "" {
		errs = append(errs, errors.New("--broker.path must not be empty"))
	}
	if o.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--broker.lock-timeout must be positive, got %s", o.LockTimeout))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--broker.poll-interval must be positive, got %s", o.PollInterval))
	}

	return errs
}

// AddFlags adds flags for BrokerOptions to the specified FlagSet.
func (o *BrokerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "broker.path", o.Path, "Path of the local broker message log.")
	fs.DurationVar(&o.LockTimeout, "broker.lock-timeout", o.LockTimeout, "Maximum wait for the log lock when publishing.")
	fs.DurationVar(&o.PollInterval, "broker.poll-interval", o.PollInterval, "How often subscribers re-read the log without a file notification.")
	fs.BoolVar(&o.Sync, "broker.sync", o.Sync, "Fsync the log after every append.")
}
