package dispatch

import (
	"context"
	"time"

	"github.com/autopeer-io/homepeer/internal/broker"
	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/mqtt"
)

// Subscriber delivers the messages matching a topic filter to handler until
// ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, handler mqtt.MessageHandler) error
}

// LocalSubscriber tails the file backed broker.
type LocalSubscriber struct {
	broker *broker.Broker
	opts   []broker.SubscribeOption
}

var _ Subscriber = (*LocalSubscriber)(nil)

// NewLocalSubscriber returns a Subscriber on b; opts apply to every
// subscription it opens.
func NewLocalSubscriber(b *broker.Broker, opts ...broker.SubscribeOption) *LocalSubscriber {
	return &LocalSubscriber{broker: b, opts: opts}
}

// Subscribe calls handler sequentially, in log order. It returns nil when ctx
// is done or the broker is closed.
func (s *LocalSubscriber) Subscribe(ctx context.Context, filter string, handler mqtt.MessageHandler) error {
	sub, err := s.broker.Subscribe(filter, s.opts...)
	if err != nil {
		return err
	}
	defer sub.Close()

	for msg, err := range sub.All(ctx) {
		if err != nil {
			return err
		}
		handler(ctx, msg.Topic, msg.Payload)
	}
	return nil
}

// unsubscribeTimeout bounds the UNSUBSCRIBE sent after ctx is done.
const unsubscribeTimeout = 2 * time.Second

// MQTTSubscriber subscribes with QoS 1 through an MQTT client.
type MQTTSubscriber struct {
	client mqtt.Client
}

var _ Subscriber = (*MQTTSubscriber)(nil)

// NewMQTTSubscriber wraps an already started client.
func NewMQTTSubscriber(client mqtt.Client) *MQTTSubscriber {
	return &MQTTSubscriber{client: client}
}

// Subscribe registers handler and blocks until ctx is done. Handlers run on
// the client's goroutines.
func (s *MQTTSubscriber) Subscribe(ctx context.Context, filter string, handler mqtt.MessageHandler) error {
	if err := s.client.Subscribe(ctx, filter, mqtt.QoSAtLeastOnce, handler); err != nil {
		return err
	}
	<-ctx.Done()

	unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
	defer cancel()
	if err := s.client.Unsubscribe(unsubCtx, filter); err != nil {
		log.FromContext(ctx).Warn("Failed to unsubscribe", "topic", filter, "error", err)
	}
	return nil
}
