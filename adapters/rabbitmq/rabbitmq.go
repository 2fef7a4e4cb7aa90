package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-device-relay/adapters/internal/loop"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

const keyHeader = "key"

// PubMsg is one message for the relay exchange.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

// Publisher sends one message to an exchange.
type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// QueueSpec describes the queue a subscription consumes from.
// Durable queues outlive their consumers; transient ones are exclusive and auto-deleted.
type QueueSpec struct {
	Name        string
	Durable     bool
	RoutingKeys []string
}

// Delivery is a single consumed message. Ack must be called once handling finishes.
type Delivery struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]string
	Ack        func() error
}

// Consumer opens a delivery stream for a queue. The returned cancel stops the stream
// and releases its channel; the delivery channel is closed afterwards.
type Consumer interface {
	Consume(ctx context.Context, q QueueSpec) (<-chan Delivery, func() error, error)
}

// Adapter maps topics onto routing keys of a topic exchange.
type Adapter struct {
	Publisher Publisher
	Consumer  Consumer
	Logger    *slog.Logger
}

var _ cbus.Broker = (*Adapter)(nil)

// New builds an Adapter. A nil logger uses slog.Default.
func New(p Publisher, c Consumer, logger *slog.Logger) *Adapter {
	return &Adapter{Publisher: p, Consumer: c, Logger: loop.Logger(logger)}
}

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrBrokerUnavailable)
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		hdrs[k] = v
	}

	if len(msg.Key) > 0 {
		hdrs[keyHeader] = string(msg.Key)
	}

	pm := PubMsg{
		Exchange:   relayExchange,
		RoutingKey: msg.Topic,
		Body:       msg.Value,
		Headers:    hdrs,
	}
	if err := a.Publisher.Publish(ctx, pm); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", msg.Topic, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) (cbus.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Consumer == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrBrokerUnavailable)
	}

	spec := queueSpec(sub)

	deliveries, cancel, err := a.Consumer.Consume(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe %v: %w", sub.Topics, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	logger := loop.Logger(a.Logger)
	logger.InfoContext(ctx, "rabbitmq subscription started", "queue", spec.Name, "routing_keys", spec.RoutingKeys)

	consume := func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.WarnContext(ctx, "rabbitmq delivery stream closed", "queue", spec.Name)
					return
				}

				loop.Deliver(ctx, logger, "rabbitmq", h, messageFromDelivery(d))

				if d.Ack != nil {
					if err := d.Ack(); err != nil {
						logger.WarnContext(ctx, "rabbitmq ack failed", "queue", spec.Name, "error", err)
					}
				}
			}
		}
	}

	return loop.Go(ctx, consume, cancel), nil
}

// queueSpec names grouped queues after the group so that every member competes on one queue.
// Group-less subscriptions get a server-named transient queue.
func queueSpec(sub cbus.Subscription) QueueSpec {
	q := QueueSpec{RoutingKeys: append([]string(nil), sub.Topics...)}
	if sub.Group != "" {
		q.Name = sub.Group
		q.Durable = true
	}

	return q
}

func messageFromDelivery(d Delivery) cbus.Message {
	msg := cbus.Message{Topic: d.RoutingKey, Value: d.Body}

	if len(d.Headers) > 0 {
		msg.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			msg.Headers[k] = v
		}

		if key := d.Headers[keyHeader]; key != "" {
			msg.Key = []byte(key)
		}
	}

	return msg
}
