// Package inmemory provides an in-process broker that honours the same contracts as the
// network adapters: per-topic FIFO delivery, retained history with earliest/latest offsets,
// consumer groups that load-balance and remember their position.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-device-relay/adapters/internal/loop"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

const subscriberBuffer = 1024

type subscriber struct {
	group  string
	ch     chan cbus.Message
	closed chan struct{}
}

// Broker is a thread-safe in-memory implementation of cbus.Broker.
type Broker struct {
	mu          sync.Mutex
	history     map[string][]cbus.Message
	subs        map[string][]*subscriber
	offsets     map[string]int // topic+group -> next index
	rr          map[string]int // topic+group -> round-robin cursor
	unavailable bool
	logger      *slog.Logger
}

// Ensure Broker implements the combined contract.
var _ cbus.Broker = (*Broker)(nil)

// New creates a new in-memory broker.
func New(logger *slog.Logger) *Broker {
	return &Broker{
		history: make(map[string][]cbus.Message),
		subs:    make(map[string][]*subscriber),
		offsets: make(map[string]int),
		rr:      make(map[string]int),
		logger:  loop.Logger(logger),
	}
}

// SetUnavailable simulates a broker outage: Publish and Subscribe fail while it is set.
func (b *Broker) SetUnavailable(v bool) {
	b.mu.Lock()
	b.unavailable = v
	b.mu.Unlock()
}

// Messages returns a copy of everything published to topic so far.
func (b *Broker) Messages(topic string) []cbus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]cbus.Message(nil), b.history[topic]...)
}

func (b *Broker) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.unavailable {
		b.mu.Unlock()
		return fmt.Errorf("inmemory publish %s: %w", msg.Topic, berr.ErrBrokerUnavailable)
	}

	msg = cloneMessage(msg)
	b.history[msg.Topic] = append(b.history[msg.Topic], msg)
	recipients := b.recipients(msg.Topic)
	b.mu.Unlock()

	for _, s := range recipients {
		select {
		case s.ch <- msg:
		case <-s.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// recipients picks one subscriber per group (round robin) and every group-less subscriber.
// Callers hold b.mu.
func (b *Broker) recipients(topic string) []*subscriber {
	var (
		out    []*subscriber
		groups = map[string][]*subscriber{}
		order  []string
	)

	for _, s := range b.subs[topic] {
		if s.group == "" {
			out = append(out, s)
			continue
		}

		if _, seen := groups[s.group]; !seen {
			order = append(order, s.group)
		}

		groups[s.group] = append(groups[s.group], s)
	}

	for _, g := range order {
		key := groupKey(topic, g)
		members := groups[g]
		out = append(out, members[b.rr[key]%len(members)])
		b.rr[key]++
		b.offsets[key] = len(b.history[topic])
	}

	return out
}

func (b *Broker) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) (cbus.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(sub.Topics) == 0 {
		return nil, errors.New("inmemory subscribe: at least one topic required")
	}

	s := &subscriber{
		group:  sub.Group,
		ch:     make(chan cbus.Message, subscriberBuffer),
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	if b.unavailable {
		b.mu.Unlock()
		return nil, fmt.Errorf("inmemory subscribe: %w", berr.ErrBrokerUnavailable)
	}

	var backlog []cbus.Message

	for _, topic := range sub.Topics {
		backlog = append(backlog, b.backlog(topic, sub)...)
		b.subs[topic] = append(b.subs[topic], s)
	}
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "inmemory subscription started", "topics", sub.Topics, "group", sub.Group)

	consume := func(ctx context.Context) {
		for _, msg := range backlog {
			if ctx.Err() != nil {
				return
			}

			loop.Deliver(ctx, b.logger, "inmemory", h, msg)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.ch:
				loop.Deliver(ctx, b.logger, "inmemory", h, msg)
			}
		}
	}

	release := func() error {
		b.remove(sub.Topics, s)
		return nil
	}

	return loop.Go(ctx, consume, release), nil
}

// backlog returns retained messages the new subscription should see first. Callers hold b.mu.
func (b *Broker) backlog(topic string, sub cbus.Subscription) []cbus.Message {
	hist := b.history[topic]

	if sub.Group == "" {
		if sub.Offset == cbus.OffsetEarliest {
			return append([]cbus.Message(nil), hist...)
		}

		return nil
	}

	key := groupKey(topic, sub.Group)

	start, known := b.offsets[key]
	if !known {
		start = len(hist)
		if sub.Offset == cbus.OffsetEarliest {
			start = 0
		}
	}

	b.offsets[key] = len(hist)

	return append([]cbus.Message(nil), hist[start:]...)
}

func (b *Broker) remove(topics []string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	close(target.closed)

	for _, topic := range topics {
		items := b.subs[topic]
		filtered := make([]*subscriber, 0, len(items))

		for _, item := range items {
			if item != target {
				filtered = append(filtered, item)
			}
		}

		b.subs[topic] = filtered
	}
}

func groupKey(topic, group string) string { return topic + "\x00" + group }

func cloneMessage(m cbus.Message) cbus.Message {
	out := cbus.Message{
		Topic: m.Topic,
		Key:   append([]byte(nil), m.Key...),
		Value: append([]byte(nil), m.Value...),
	}

	if len(m.Headers) > 0 {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}

	return out
}
