package homepeer

import (
	"context"
	"errors"
	"time"

	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/internal/dispatch"
)

// disconnectTimeout bounds the MQTT DISCONNECT on Close.
const disconnectTimeout = 5 * time.Second

// Transport is the publisher and subscriber pair selected by the dispatch
// mode. Both sides use the same broker: the local log or one MQTT session.
type Transport struct {
	Publisher  dispatch.Publisher
	Subscriber dispatch.Subscriber

	// Broker is set when the local log is in use.
	Broker *broker.Broker

	mqtt *dispatch.MQTTPublisher
}

// NewTransport connects according to the dispatch mode. subOpts apply to
// local broker subscriptions.
func (cfg *Config) NewTransport(ctx context.Context, role string, subOpts ...broker.SubscribeOption) (*Transport, error) {
	t := &Transport{}

	local := func(ctx context.Context) (dispatch.Publisher, error) {
		b, err := InitializeBroker(cfg.BrokerOptions)
		if err != nil {
			return nil, err
		}
		t.Broker = b
		t.Subscriber = dispatch.NewLocalSubscriber(b, subOpts...)
		return dispatch.NewLocalPublisher(b), nil
	}
	remote := func(ctx context.Context) (dispatch.Publisher, error) {
		pub, err := InitializeMQTT(ctx, cfg.MqttOptions, role)
		if err != nil {
			return nil, err
		}
		t.mqtt = pub
		t.Subscriber = dispatch.NewMQTTSubscriber(pub.Client())
		return pub, nil
	}

	pub, err := dispatch.Select(ctx, cfg.DispatchOptions.Mode, local, remote)
	if err != nil {
		return nil, err
	}
	t.Publisher = pub
	return t, nil
}

// Ready fails while the MQTT session is down.
func (t *Transport) Ready(ctx context.Context) error {
	if t.mqtt != nil {
		return t.mqtt.Ready(ctx)
	}
	return nil
}

// Close releases the broker or disconnects from MQTT.
func (t *Transport) Close() error {
	var errs []error
	if t.mqtt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		t.mqtt.Close(ctx)
	}
	if t.Broker != nil {
		errs = append(errs, t.Broker.Close())
	}
	return errors.Join(errs...)
}
