package mqtt

import (
	"context"
)

// Delivery guarantees accepted by Publish and Subscribe. Device commands and
// feedback use QoSAtLeastOnce; handlers must tolerate a redelivered command.
const (
	QoSAtMostOnce  = 0
	QoSAtLeastOnce = 1
	QoSExactlyOnce = 2
)

// MessageHandler receives one message delivered on a subscribed topic, such
// as an encoded command on <root>/command.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the remote transport used when commands are dispatched through an
// external MQTT broker instead of the local log.
type Client interface {
	// Start connects in the background and returns at once.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT and stops reconnecting.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe routes messages matching the filter to handler. Filters are
	// re-subscribed after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the first CONNACK or ctx is done.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
