// Package producer publishes command envelopes to their topics.
// A publish returns once the broker accepted the message; nothing is retried.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
)

const tracerName = "github.com/next-trace/scg-device-relay/producer"

// Topics names the command topics. Device commands go to Devices, module commands to
// Modules and telemetry to Telemetries.
type Topics struct {
	Devices     string
	Modules     string
	Telemetries string
}

// Producer publishes command envelopes, one message per call.
type Producer struct {
	pub    cbus.Publisher
	topics Topics
	prop   cbus.HeaderPropagator
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Producer.
type Option func(*Producer)

// WithPropagator injects trace context into message headers.
func WithPropagator(hp cbus.HeaderPropagator) Option { return func(p *Producer) { p.prop = hp } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(p *Producer) { p.logger = l } }

// WithTracer replaces the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option { return func(p *Producer) { p.tracer = t } }

// New returns a Producer publishing to topics through pub.
func New(pub cbus.Publisher, topics Topics, opts ...Option) *Producer {
	p := &Producer{
		pub:    pub,
		topics: topics,
		prop:   cbus.NopHeaderPropagator{},
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Publish encodes cmd and appends exactly one message to topic.
func (p *Producer) Publish(ctx context.Context, topic string, cmd envelope.Command) error {
	if topic == "" {
		return fmt.Errorf("publish %T: %w", cmd, errors.Join(berr.ErrSerializationFailed, errors.New("empty topic")))
	}

	body, err := envelope.Encode(cmd)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "publish "+topic, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.String("relay.message_type", string(cmd.MessageType())),
	)

	headers := map[string]string{}
	p.prop.Inject(ctx, headers)

	msg := cbus.Message{Topic: topic, Key: keyOf(cmd), Value: body, Headers: headers}
	if err := p.pub.Publish(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrBrokerUnavailable) {
			return err
		}

		return fmt.Errorf("publish %s: %w", topic, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	p.logger.DebugContext(ctx, "command published", "topic", topic, "message_type", cmd.MessageType())

	return nil
}

// Send publishes cmd to the topic owning its message type.
func (p *Producer) Send(ctx context.Context, cmd envelope.Command) error {
	return p.Publish(ctx, p.TopicFor(cmd), cmd)
}

// TopicFor returns the configured topic for cmd's message type.
func (p *Producer) TopicFor(cmd envelope.Command) string {
	switch cmd.(type) {
	case envelope.AddDevice, envelope.UpdateDevice, envelope.DeleteDevice:
		return p.topics.Devices
	case envelope.AddModule, envelope.UpdateModule, envelope.DeleteModule:
		return p.topics.Modules
	case envelope.AddTelemetry:
		return p.topics.Telemetries
	default:
		return ""
	}
}

func (p *Producer) AddDevice(ctx context.Context, c envelope.AddDevice) error {
	return p.Publish(ctx, p.topics.Devices, c)
}

func (p *Producer) UpdateDevice(ctx context.Context, c envelope.UpdateDevice) error {
	return p.Publish(ctx, p.topics.Devices, c)
}

func (p *Producer) DeleteDevice(ctx context.Context, c envelope.DeleteDevice) error {
	return p.Publish(ctx, p.topics.Devices, c)
}

func (p *Producer) AddModule(ctx context.Context, c envelope.AddModule) error {
	return p.Publish(ctx, p.topics.Modules, c)
}

func (p *Producer) UpdateModule(ctx context.Context, c envelope.UpdateModule) error {
	return p.Publish(ctx, p.topics.Modules, c)
}

func (p *Producer) DeleteModule(ctx context.Context, c envelope.DeleteModule) error {
	return p.Publish(ctx, p.topics.Modules, c)
}

func (p *Producer) AddTelemetry(ctx context.Context, c envelope.AddTelemetry) error {
	return p.Publish(ctx, p.topics.Telemetries, c)
}

// keyOf keys entity mutations by entity id so a keyed broker keeps them in order per entity.
// Inserts carry no id yet and stay unkeyed.
func keyOf(cmd envelope.Command) []byte {
	switch c := cmd.(type) {
	case envelope.UpdateDevice:
		return []byte(c.DeviceID)
	case envelope.DeleteDevice:
		return []byte(c.DeviceID)
	case envelope.UpdateModule:
		return []byte(c.ModuleID)
	case envelope.DeleteModule:
		return []byte(c.ModuleID)
	case envelope.AddTelemetry:
		return []byte(c.DeviceID)
	default:
		return nil
	}
}
