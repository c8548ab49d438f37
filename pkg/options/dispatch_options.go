package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DispatchOptions)(nil)

// Dispatch modes.
const (
	// DispatchLocal publishes to the local broker log only.
	DispatchLocal = "local"
	// DispatchMQTT publishes to the MQTT broker only.
	DispatchMQTT = "mqtt"
	// DispatchAuto tries MQTT and falls back to the local broker when the
	// connection cannot be established in time.
	DispatchAuto = "auto"
)

// DispatchOptions selects the transport device commands go out on.
type DispatchOptions struct {
	Mode string `json:"mode" mapstructure:"mode"`
}

// NewDispatchOptions creates a DispatchOptions that uses the local broker.
func NewDispatchOptions() *DispatchOptions {
	return &DispatchOptions{Mode: DispatchLocal}
}

// Validate checks the mode.
func (o *DispatchOptions) Validate() []error {
	if o == nil {
		return nil
	}

	switch o.Mode {
	case DispatchLocal, DispatchMQTT, DispatchAuto:
		return nil
	}
	return []error{fmt.Errorf("--dispatch.mode must be one of %s, %s or %s, got %q", DispatchLocal, DispatchMQTT, DispatchAuto, o.Mode)}
}

// AddFlags adds flags for DispatchOptions to the specified FlagSet.
func (o *DispatchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Mode, "dispatch.mode", o.Mode, "Command transport: local, mqtt or auto.")
}
