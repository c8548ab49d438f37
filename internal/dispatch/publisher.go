package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/mqtt"
	"github.com/autopeer-io/homepeer/pkg/options"
)

// Transport labels.
const (
	TransportLocal = "local"
	TransportMQTT  = "mqtt"
)

// Publisher delivers an encoded command to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Transport names the underlying transport for logs and metrics.
	Transport() string
}

// LocalPublisher appends to the file backed broker.
type LocalPublisher struct {
	broker *broker.Broker
}

var _ Publisher = (*LocalPublisher)(nil)

// NewLocalPublisher returns a Publisher on b. The caller keeps ownership of b.
func NewLocalPublisher(b *broker.Broker) *LocalPublisher {
	return &LocalPublisher{broker: b}
}

func (p *LocalPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := p.broker.Publish(ctx, topic, payload)
	return err
}

func (p *LocalPublisher) Transport() string { return TransportLocal }

// MQTTPublisher publishes with QoS 1 through an MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher wraps an already started client.
func NewMQTTPublisher(client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{client: client}
}

// ConnectMQTT starts a client and waits up to cfg.ConnectTimeout for the
// first connection. The client is shut down again on failure.
func ConnectMQTT(ctx context.Context, cfg *mqtt.ClientConfig) (*MQTTPublisher, error) {
	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mqtt client: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.AwaitConnection(waitCtx); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("connect to %s: %w", cfg.BrokerURL, err)
	}
	return NewMQTTPublisher(client), nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, topic, mqtt.QoSAtLeastOnce, false, payload)
}

func (p *MQTTPublisher) Transport() string { return TransportMQTT }

// Client returns the underlying client, e.g. to subscribe on the same session.
func (p *MQTTPublisher) Client() mqtt.Client { return p.client }

// Ready reports whether the client currently holds a connection.
func (p *MQTTPublisher) Ready(ctx context.Context) error {
	if !p.client.IsConnected() {
		return errors.New("mqtt client not connected")
	}
	return nil
}

// Close disconnects the client.
func (p *MQTTPublisher) Close(ctx context.Context) {
	p.client.Disconnect(ctx)
}

// Connector lazily builds a Publisher.
type Connector func(ctx context.Context) (Publisher, error)

// Select returns the publisher for mode: "local", "mqtt" or "auto". Auto
// tries remote first and falls back to local.
func Select(ctx context.Context, mode string, local, remote Connector) (Publisher, error) {
	switch mode {
	case options.DispatchLocal:
		return local(ctx)
	case options.DispatchMQTT:
		return remote(ctx)
	case options.DispatchAuto:
		pub, err := remote(ctx)
		if err == nil {
			return pub, nil
		}
		log.FromContext(ctx).Warn("MQTT broker unreachable, falling back to the local broker", "error", err)
		return local(ctx)
	}
	return nil, fmt.Errorf("unknown dispatch mode %q", mode)
}
