package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-device-relay/adapters/kafka"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

type fakeWriter struct {
	calls []struct {
		topic   string
		key     []byte
		value   []byte
		headers map[string]string
	}
	err error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, struct {
		topic   string
		key     []byte
		value   []byte
		headers map[string]string
	}{topic, key, value, headers})

	return f.err
}

type fakeSource struct {
	batches chan []*kgo.Record
	errs    chan error

	mu        sync.Mutex
	committed []*kgo.Record
	closed    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{batches: make(chan []*kgo.Record, 8), errs: make(chan error, 8)}
}

func (f *fakeSource) Poll(ctx context.Context) ([]*kgo.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-f.errs:
		return nil, err
	case b := <-f.batches:
		return b, nil
	}
}

func (f *fakeSource) Commit(_ context.Context, recs []*kgo.Record) error {
	f.mu.Lock()
	f.committed = append(f.committed, recs...)
	f.mu.Unlock()

	return nil
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func TestKafka_Publish(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw, nil, nil)

	msg := cbus.Message{Topic: "devices", Key: []byte("k1"), Value: []byte(`{"message_type":"delete-device"}`), Headers: map[string]string{"h": "1"}}
	if err := ad.Publish(t.Context(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fw.calls))
	}

	c := fw.calls[0]
	if c.topic != "devices" || string(c.key) != "k1" || c.headers["h"] != "1" || len(c.value) == 0 {
		t.Fatalf("unexpected write: %+v", c)
	}
}

func TestKafka_PublishErrors(t *testing.T) {
	if err := kafka.New(nil, nil, nil).Publish(t.Context(), cbus.Message{Topic: "t"}); !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("nil writer: want ErrBrokerUnavailable, got %v", err)
	}

	fw := &fakeWriter{err: errors.New("leader not available")}
	if err := kafka.New(fw, nil, nil).Publish(t.Context(), cbus.Message{Topic: "t"}); !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("write failure: want ErrBrokerUnavailable, got %v", err)
	}

	fw = &fakeWriter{err: context.DeadlineExceeded}
	if err := kafka.New(fw, nil, nil).Publish(t.Context(), cbus.Message{Topic: "t"}); !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("context errors must pass through unwrapped, got %v", err)
	}
}

func TestKafka_SubscribeDeliversAndCommits(t *testing.T) {
	src := newFakeSource()
	var gotSub cbus.Subscription

	ad := kafka.New(nil, func(_ context.Context, sub cbus.Subscription) (kafka.Source, error) {
		gotSub = sub
		return src, nil
	}, nil)

	got := make(chan cbus.Message, 4)
	h := func(_ context.Context, m cbus.Message) error {
		got <- m
		if string(m.Value) == "bad" {
			return errors.New("handler failed")
		}

		return nil
	}

	sub := cbus.Subscription{Topics: []string{"devices", "modules"}, Group: "devices"}

	closer, err := ad.Subscribe(t.Context(), sub, h)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if gotSub.Group != "devices" || len(gotSub.Topics) != 2 {
		t.Fatalf("subscription not forwarded: %+v", gotSub)
	}

	src.errs <- errors.New("transient fetch error")
	src.batches <- []*kgo.Record{
		{Topic: "devices", Value: []byte("bad")},
		{Topic: "modules", Value: []byte("ok"), Headers: []kgo.RecordHeader{{Key: "traceparent", Value: []byte("tp")}}},
	}

	first := <-got
	second := <-got

	if string(first.Value) != "bad" || string(second.Value) != "ok" {
		t.Fatalf("order: %q then %q", first.Value, second.Value)
	}

	if second.Headers["traceparent"] != "tp" {
		t.Fatalf("headers not mapped: %+v", second.Headers)
	}

	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()

	if len(src.committed) != 2 {
		t.Fatalf("a failing handler must not block the commit, committed=%d", len(src.committed))
	}

	if !src.closed {
		t.Fatalf("source not closed")
	}
}

func TestKafka_SubscribeFailure(t *testing.T) {
	ad := kafka.New(nil, func(context.Context, cbus.Subscription) (kafka.Source, error) {
		return nil, errors.New("dial tcp: refused")
	}, nil)

	_, err := ad.Subscribe(t.Context(), cbus.Subscription{Topics: []string{"t"}}, func(context.Context, cbus.Message) error { return nil })
	if !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestKafka_StopsOnClosedClient(t *testing.T) {
	src := newFakeSource()
	ad := kafka.New(nil, func(context.Context, cbus.Subscription) (kafka.Source, error) { return src, nil }, nil)

	closer, err := ad.Subscribe(t.Context(), cbus.Subscription{Topics: []string{"t"}}, func(context.Context, cbus.Message) error { return nil })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	src.errs <- berr.ErrClosed

	select {
	case <-closer.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on closed client")
	}
}
