package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the REST API serving the chat page, device state and
// manual control.
type HttpOptions struct {
	// Network is one of tcp, tcp4 or tcp6.
	Network string `json:"network" mapstructure:"network"`

	// Addr is host:port; a bare port binds every interface.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and draining connections on shutdown.
	// Chat requests wait on the model and are not bounded by it.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

var httpNetworks = []string{"tcp", "tcp4", "tcp6"}

// NewHttpOptions returns options listening on the loopback port the chat page
// expects.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network: "tcp",
		Addr:    "127.0.0.1:8000",
		Timeout: 5 * time.Second,
	}
}

// Validate checks the listen address, network and timeout.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if !slices.Contains(httpNetworks, o.Network) {
		errs = append(errs, fmt.Errorf("--http.network must be one of %v, got %q", httpNetworks, o.Network))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("--http.timeout must be positive, got %s", o.Timeout))
	}

	return errs
}

// AddFlags adds flags for the REST API to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Listen network for the REST API: tcp, tcp4 or tcp6.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Listen address of the REST API and chat page.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Header read and graceful shutdown timeout.")
}
