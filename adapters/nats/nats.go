package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/next-trace/scg-device-relay/adapters/internal/loop"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

const (
	keyHeader     = "key"
	channelBuffer = 256
)

// Client is a minimal NATS-like interface decoupled from the connection.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe pushes messages for subject into ch. A non-empty queue load-balances
	// deliveries across subscribers of the same queue group.
	Subscribe(subject, queue string, ch chan *nats.Msg) (Unsubscriber, error)
}

// Unsubscriber is satisfied by *nats.Subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Adapter implements cbus.Broker using an injected NATS-like Client.
// Core NATS keeps no history, so every subscription behaves as cbus.OffsetLatest.
type Adapter struct {
	Client Client
	Logger *slog.Logger
}

// Ensure Adapter implements the combined contract.
var _ cbus.Broker = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client, logger *slog.Logger) *Adapter { return &Adapter{Client: c, Logger: loop.Logger(logger)} }

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := a.ready(ctx, "publish"); err != nil {
		return err
	}

	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}

	if len(msg.Key) > 0 {
		headers[keyHeader] = string(msg.Key)
	}

	if err := a.Client.Publish(msg.Topic, msg.Value, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", msg.Topic, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) (cbus.Closer, error) {
	if err := a.ready(ctx, "subscribe"); err != nil {
		return nil, err
	}

	logger := loop.Logger(a.Logger)
	if sub.Offset == cbus.OffsetEarliest {
		logger.DebugContext(ctx, "nats core has no retention, subscribing from latest", "topics", sub.Topics)
	}

	ch := make(chan *nats.Msg, channelBuffer)
	subs := make([]Unsubscriber, 0, len(sub.Topics))

	unsubscribeAll := func() error {
		var errs []error
		for _, s := range subs {
			if err := s.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}

	for _, topic := range sub.Topics {
		s, err := a.Client.Subscribe(topic, sub.Group, ch)
		if err != nil {
			_ = unsubscribeAll()
			return nil, fmt.Errorf("nats subscribe %s: %w", topic, errors.Join(berr.ErrBrokerUnavailable, err))
		}

		subs = append(subs, s)
	}

	logger.InfoContext(ctx, "nats subscription started", "topics", sub.Topics, "queue", sub.Group)

	consume := func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-ch:
				loop.Deliver(ctx, logger, "nats", h, messageFromNats(m))
			}
		}
	}

	return loop.Go(ctx, consume, unsubscribeAll), nil
}

func (a *Adapter) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrBrokerUnavailable)
	}

	return nil
}

func messageFromNats(m *nats.Msg) cbus.Message {
	msg := cbus.Message{Topic: m.Subject, Value: m.Data}

	if len(m.Header) > 0 {
		msg.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Headers[k] = m.Header.Get(k)
		}

		if key := m.Header.Get(keyHeader); key != "" {
			msg.Key = []byte(key)
		}
	}

	return msg
}
