// Package homepeer assembles the assistant, its transports and the HTTP
// server from configuration.
package homepeer

import (
	"github.com/autopeer-io/homepeer/pkg/mqtt/topic"
	"github.com/autopeer-io/homepeer/pkg/options"
)

type Config struct {
	ModelOptions    *options.ModelOptions
	BrokerOptions   *options.BrokerOptions
	MqttOptions     *options.MqttOptions
	DispatchOptions *options.DispatchOptions
	HttpOptions     *options.HttpOptions

	// HistorySize is the number of conversation turns kept as context.
	HistorySize int
}

// Topics returns the topic builder for the configured root.
func (cfg *Config) Topics() *topic.Builder {
	if cfg.MqttOptions == nil {
		return topic.NewBuilder("")
	}
	return cfg.MqttOptions.Topics()
}
