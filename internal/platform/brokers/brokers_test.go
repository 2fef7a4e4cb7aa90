package brokers_test

import (
	"context"
	"testing"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	"github.com/next-trace/scg-device-relay/internal/platform/brokers"
)

func TestOpen_Memory(t *testing.T) {
	b, cleanup, err := brokers.Open(t.Context(), brokers.Config{Driver: "memory"}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cleanup()

	got := make(chan string, 1)

	closer, err := b.Subscribe(t.Context(), cbus.Subscription{Topics: []string{"devices"}}, func(_ context.Context, m cbus.Message) error {
		got <- string(m.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer closer.Close()

	if err := b.Publish(t.Context(), cbus.Message{Topic: "devices", Value: []byte("x")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if v := <-got; v != "x" {
		t.Fatalf("got %q", v)
	}
}

func TestOpen_Errors(t *testing.T) {
	cases := []brokers.Config{
		{Driver: "kafka"},
		{Driver: "nats"},
		{Driver: "rabbitmq"},
		{Driver: "carrier-pigeon", Addrs: []string{"coop:1"}},
	}

	for _, cfg := range cases {
		if _, _, err := brokers.Open(t.Context(), cfg, nil); err == nil {
			t.Fatalf("%+v: expected error", cfg)
		}
	}
}
