package producer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/next-trace/scg-device-relay/adapters/inmemory"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/producer"
)

var topics = producer.Topics{Devices: "devices", Modules: "modules", Telemetries: "telemetries"}

type fakePublisher struct {
	msgs []cbus.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, m cbus.Message) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

type stampPropagator struct{}

func (stampPropagator) Inject(_ context.Context, h map[string]string) { h["traceparent"] = "stamp" }

func (stampPropagator) Extract(ctx context.Context, _ map[string]string) context.Context { return ctx }

func TestPublish_ExactlyOneMessage(t *testing.T) {
	b := inmemory.New(nil)
	p := producer.New(b, topics)

	if err := p.AddDevice(t.Context(), envelope.AddDevice{SerialNumber: "SN1", Name: "Lamp", Type: "light", UserID: "U1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs := b.Messages("devices")
	if len(msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(msgs))
	}

	if got := gjson.GetBytes(msgs[0].Value, "message_type").String(); got != "add-device" {
		t.Fatalf("message_type = %q", got)
	}
}

func TestTypedHelpersRouteToTopics(t *testing.T) {
	fp := &fakePublisher{}
	p := producer.New(fp, topics, producer.WithPropagator(stampPropagator{}))
	ctx := t.Context()

	calls := []func() error{
		func() error { return p.UpdateDevice(ctx, envelope.UpdateDevice{DeviceID: "d1"}) },
		func() error { return p.DeleteDevice(ctx, envelope.DeleteDevice{DeviceID: "d1"}) },
		func() error { return p.AddModule(ctx, envelope.AddModule{SerialNumber: "M", UserID: "U"}) },
		func() error { return p.UpdateModule(ctx, envelope.UpdateModule{ModuleID: "m1"}) },
		func() error { return p.DeleteModule(ctx, envelope.DeleteModule{ModuleID: "m1"}) },
		func() error { return p.AddTelemetry(ctx, envelope.AddTelemetry{DeviceID: "d1", Indications: "{}"}) },
	}
	for i, c := range calls {
		if err := c(); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	wantTopics := []string{"devices", "devices", "modules", "modules", "modules", "telemetries"}
	wantKeys := []string{"d1", "d1", "", "m1", "m1", "d1"}

	for i, m := range fp.msgs {
		if m.Topic != wantTopics[i] || string(m.Key) != wantKeys[i] {
			t.Fatalf("msg %d: topic=%s key=%s", i, m.Topic, m.Key)
		}

		if m.Headers["traceparent"] != "stamp" {
			t.Fatalf("msg %d: propagator not applied: %v", i, m.Headers)
		}
	}
}

func TestSend_UsesTopicForType(t *testing.T) {
	fp := &fakePublisher{}
	p := producer.New(fp, topics)

	if err := p.Send(t.Context(), envelope.AddTelemetry{DeviceID: "d", Indications: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	if fp.msgs[0].Topic != "telemetries" {
		t.Fatalf("topic = %s", fp.msgs[0].Topic)
	}
}

func TestPublish_Errors(t *testing.T) {
	b := inmemory.New(nil)
	b.SetUnavailable(true)

	p := producer.New(b, topics)
	if err := p.DeleteDevice(t.Context(), envelope.DeleteDevice{DeviceID: "d"}); !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}

	// foreign publisher errors are classified as broker unavailability
	p = producer.New(&fakePublisher{err: errors.New("socket closed")}, topics)
	if err := p.DeleteDevice(t.Context(), envelope.DeleteDevice{DeviceID: "d"}); !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}

	p = producer.New(&fakePublisher{err: context.DeadlineExceeded}, topics)
	if err := p.DeleteDevice(t.Context(), envelope.DeleteDevice{DeviceID: "d"}); errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("context errors must pass through, got %v", err)
	}

	fp := &fakePublisher{}
	p = producer.New(fp, topics)
	if err := p.DeleteDevice(t.Context(), envelope.DeleteDevice{}); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}

	if len(fp.msgs) != 0 {
		t.Fatalf("invalid command must not reach the broker")
	}

	if err := producer.New(fp, producer.Topics{}).AddModule(t.Context(), envelope.AddModule{SerialNumber: "s", UserID: "u"}); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("empty topic: want ErrSerializationFailed, got %v", err)
	}
}
