package consumer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-device-relay/adapters/inmemory"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/consumer"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/servicebus"
)

var cfg = consumer.Config{Topics: []string{"devices", "modules"}, Group: "devices"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func publish(t *testing.T, b *inmemory.Broker, topic, body string) {
	t.Helper()

	if err := b.Publish(t.Context(), cbus.Message{Topic: topic, Value: []byte(body)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func start(t *testing.T, c *consumer.Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- c.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return c.State() >= consumer.StateSubscribed })

	return cancel, done
}

func TestDecodeFailureDoesNotStopLoop(t *testing.T) {
	b := inmemory.New(nil)
	bus := servicebus.New(nil)

	var deleted []string
	_ = servicebus.BindCommand[envelope.DeleteDevice](bus, cbus.CommandHandlerFunc[envelope.DeleteDevice](
		func(_ context.Context, c envelope.DeleteDevice) error {
			deleted = append(deleted, c.DeviceID)
			return nil
		}))

	c := consumer.New(b, bus, cfg)
	cancel, done := start(t, c)

	publish(t, b, "devices", `{"message_type":`)
	publish(t, b, "devices", `{"message_type":"reboot"}`)
	publish(t, b, "devices", `{"message_type":"delete-device","device_id":"d1"}`)

	waitFor(t, "three messages", func() bool { return c.Stats().Received == 3 })

	cancel()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st := c.Stats()
	if st.Dropped != 2 || st.Applied != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if len(deleted) != 1 || deleted[0] != "d1" {
		t.Fatalf("deleted = %v", deleted)
	}
}

func TestMissingTargetAndFailuresAreLocal(t *testing.T) {
	b := inmemory.New(nil)
	bus := servicebus.New(nil)

	_ = servicebus.BindCommand[envelope.DeleteModule](bus, cbus.CommandHandlerFunc[envelope.DeleteModule](func(context.Context, envelope.DeleteModule) error {
		return berr.ErrNotFound
	}))
	_ = servicebus.BindCommand[envelope.UpdateModule](bus, cbus.CommandHandlerFunc[envelope.UpdateModule](func(context.Context, envelope.UpdateModule) error {
		return errors.New("constraint violated")
	}))

	c := consumer.New(b, bus, cfg)
	cancel, done := start(t, c)

	publish(t, b, "modules", `{"message_type":"delete-module","module_id":"gone"}`)
	publish(t, b, "modules", `{"message_type":"update-module","module_id":"m1"}`)
	publish(t, b, "modules", `{"message_type":"add-telemetry","device_id":"d1","indications":"x"}`)

	waitFor(t, "three messages", func() bool { return c.Stats().Received == 3 })

	cancel()
	<-done

	st := c.Stats()
	if st.Missing != 1 || st.Failed != 1 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUnboundTypesSkipMiddleware(t *testing.T) {
	b := inmemory.New(nil)

	var wrapped atomic.Int32

	count := func(next func(context.Context, any) error) func(context.Context, any) error {
		return func(ctx context.Context, cmd any) error {
			wrapped.Add(1)
			return next(ctx, cmd)
		}
	}

	bus := servicebus.New(nil, servicebus.WithCommandMiddleware(count))
	_ = servicebus.BindCommand[envelope.DeleteDevice](bus, cbus.CommandHandlerFunc[envelope.DeleteDevice](
		func(context.Context, envelope.DeleteDevice) error { return nil }))

	c := consumer.New(b, bus, cfg)
	cancel, done := start(t, c)

	publish(t, b, "devices", `{"message_type":"add-telemetry","device_id":"d1","indications":"x"}`)
	publish(t, b, "devices", `{"message_type":"delete-device","device_id":"d1"}`)

	waitFor(t, "two messages", func() bool { return c.Stats().Received == 2 })

	cancel()
	<-done

	st := c.Stats()
	if st.Dropped != 1 || st.Applied != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if got := wrapped.Load(); got != 1 {
		t.Fatalf("middleware ran %d times, want only for the bound type", got)
	}
}

func TestStateMachineAndDrain(t *testing.T) {
	b := inmemory.New(nil)
	bus := servicebus.New(nil)

	entered := make(chan struct{})
	release := make(chan struct{})

	var handlerCtxErr error

	_ = servicebus.BindCommand[envelope.AddDevice](bus, cbus.CommandHandlerFunc[envelope.AddDevice](func(ctx context.Context, _ envelope.AddDevice) error {
		close(entered)
		<-release

		handlerCtxErr = ctx.Err()

		return nil
	}))

	c := consumer.New(b, bus, cfg)
	if c.State() != consumer.StateIdle {
		t.Fatalf("initial state = %s", c.State())
	}

	cancel, done := start(t, c)

	publish(t, b, "devices", `{"message_type":"add-device","serial_number":"SN1","name":"Lamp","type":"light","user_id":"U1"}`)
	<-entered

	if c.State() != consumer.StateConsuming {
		t.Fatalf("state = %s, want consuming", c.State())
	}

	cancel()
	waitFor(t, "stopping", func() bool { return c.State() == consumer.StateStopping })

	select {
	case <-done:
		t.Fatalf("run returned before the in-flight message finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if c.State() != consumer.StateClosed {
		t.Fatalf("final state = %s", c.State())
	}

	if handlerCtxErr != nil {
		t.Fatalf("handler context was cancelled during shutdown: %v", handlerCtxErr)
	}

	if c.Stats().Applied != 1 {
		t.Fatalf("in-flight message not applied: %+v", c.Stats())
	}

	if err := c.Run(t.Context()); !errors.Is(err, berr.ErrClosed) {
		t.Fatalf("second run: want ErrClosed, got %v", err)
	}
}

func TestSubscribeFailure(t *testing.T) {
	b := inmemory.New(nil)
	b.SetUnavailable(true)

	c := consumer.New(b, servicebus.New(nil), cfg)
	if err := c.Run(t.Context()); !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}

	if c.State() != consumer.StateClosed {
		t.Fatalf("state = %s", c.State())
	}
}

type ctxKey struct{}

type headerPropagator struct{}

func (headerPropagator) Inject(context.Context, map[string]string) {}

func (headerPropagator) Extract(ctx context.Context, h map[string]string) context.Context {
	return context.WithValue(ctx, ctxKey{}, h["traceparent"])
}

func TestPropagatorExtractsHeaders(t *testing.T) {
	b := inmemory.New(nil)
	bus := servicebus.New(nil)

	got := make(chan any, 1)
	_ = servicebus.BindCommand[envelope.DeleteDevice](bus, cbus.CommandHandlerFunc[envelope.DeleteDevice](func(ctx context.Context, _ envelope.DeleteDevice) error {
		got <- ctx.Value(ctxKey{})
		return nil
	}))

	c := consumer.New(b, bus, cfg, consumer.WithPropagator(headerPropagator{}))
	cancel, done := start(t, c)

	defer func() {
		cancel()
		<-done
	}()

	err := b.Publish(t.Context(), cbus.Message{
		Topic:   "devices",
		Value:   []byte(`{"message_type":"delete-device","device_id":"d1"}`),
		Headers: map[string]string{"traceparent": "tp-1"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case v := <-got:
		if v != "tp-1" {
			t.Fatalf("context value = %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message not handled")
	}
}
