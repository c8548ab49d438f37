package homepeer

import (
	"context"
	"fmt"

	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/dispatch"
	"github.com/autopeer-io/homepeer/internal/model"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/options"
)

// InitializeBroker opens the local broker log.
func InitializeBroker(opts *options.BrokerOptions) (*broker.Broker, error) {
	b, err := broker.Open(opts.Path,
		broker.WithLockTimeout(opts.LockTimeout),
		broker.WithPollInterval(opts.PollInterval),
		broker.WithSyncWrites(opts.Sync),
	)
	if err != nil {
		log.Error(err, "failed to open local broker", "path", opts.Path)
		return nil, err
	}
	return b, nil
}

// InitializeMQTT connects to the MQTT broker as role.
func InitializeMQTT(ctx context.Context, opts *options.MqttOptions, role string) (*dispatch.MQTTPublisher, error) {
	pub, err := dispatch.ConnectMQTT(ctx, opts.ToClientConfig(role))
	if err != nil {
		return nil, err
	}
	log.Info("Connected to MQTT broker", "broker", opts.Broker)
	return pub, nil
}

// InitializeGenerator builds the language model client.
func InitializeGenerator(opts *options.ModelOptions) (model.Generator, error) {
	cfg := &model.Config{
		Provider: opts.Provider,
		BaseURL:  opts.BaseURL,
		Model:    opts.Model,
		APIKey:   opts.APIKey,
		Timeout:  opts.Timeout,
	}
	gen, err := cfg.NewGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return gen, nil
}
