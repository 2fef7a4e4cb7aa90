// Package consumer runs a service's command consume loop: decode each envelope, dispatch
// it through the service's command table and move on, whatever the outcome.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/servicebus"
)

// State is the consumer lifecycle position, advanced by Run and handle.
type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateConsuming
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config names the topics a consumer reads and the group it reads them as.
type Config struct {
	Topics []string
	Group  string
	Offset cbus.Offset
}

// Stats counts message outcomes since Run started.
type Stats struct {
	Applied  int64
	Missing  int64
	Dropped  int64
	Failed   int64
	Received int64
}

// Consumer applies decoded commands from a subscription to a servicebus.Bus.
type Consumer struct {
	sub    cbus.Subscriber
	bus    *servicebus.Bus
	cfg    Config
	prop   cbus.HeaderPropagator
	logger *slog.Logger

	state atomic.Int32

	received atomic.Int64
	applied  atomic.Int64
	missing  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithPropagator extracts trace context from message headers before dispatch.
func WithPropagator(hp cbus.HeaderPropagator) Option { return func(c *Consumer) { c.prop = hp } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(c *Consumer) { c.logger = l } }

// New builds a Consumer in StateIdle. Nothing is subscribed until Run.
func New(sub cbus.Subscriber, bus *servicebus.Bus, cfg Config, opts ...Option) *Consumer {
	c := &Consumer{
		sub:    sub,
		bus:    bus,
		cfg:    cfg,
		prop:   cbus.NopHeaderPropagator{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// State reports the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Stats returns a snapshot of the outcome counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Applied:  c.applied.Load(),
		Missing:  c.missing.Load(),
		Dropped:  c.dropped.Load(),
		Failed:   c.failed.Load(),
	}
}

// Run subscribes and consumes until ctx is cancelled. The message being handled when ctx
// ends is applied before Run returns. Run returns an error if the subscription cannot be
// established or ends on its own.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSubscribed)) {
		return fmt.Errorf("consumer run: %w", berr.ErrClosed)
	}

	sub := cbus.Subscription{Topics: c.cfg.Topics, Group: c.cfg.Group, Offset: c.cfg.Offset}

	closer, err := c.sub.Subscribe(ctx, sub, c.handle)
	if err != nil {
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("consumer subscribe %v: %w", c.cfg.Topics, err)
	}

	c.logger.InfoContext(ctx, "consumer subscribed", "topics", c.cfg.Topics, "group", c.cfg.Group)

	select {
	case <-ctx.Done():
		c.state.Store(int32(StateStopping))
		err = closer.Close()
		c.state.Store(int32(StateClosed))

		c.logger.InfoContext(context.WithoutCancel(ctx), "consumer stopped", "stats", c.Stats())

		return err
	case <-closer.Done():
		c.state.Store(int32(StateClosed))

		if ctx.Err() != nil {
			return closer.Close()
		}

		return fmt.Errorf("consumer %v: subscription ended: %w", c.cfg.Topics, errors.Join(berr.ErrBrokerUnavailable, closer.Close()))
	}
}

// handle never returns an error: async failures stay local to the consumer.
func (c *Consumer) handle(ctx context.Context, msg cbus.Message) error {
	c.state.CompareAndSwap(int32(StateSubscribed), int32(StateConsuming))
	c.received.Add(1)

	ctx = c.prop.Extract(ctx, msg.Headers)

	cmd, err := envelope.Decode(msg.Value)
	if err != nil {
		c.dropped.Add(1)
		c.logger.WarnContext(ctx, "dropping undecodable message", "topic", msg.Topic, "error", err)

		return nil
	}

	// Types owned by another service share the topic; they skip the middleware chain.
	if !c.bus.Handles(cmd) {
		c.dropped.Add(1)
		c.logger.DebugContext(ctx, "no handler for message type", "topic", msg.Topic, "message_type", cmd.MessageType())

		return nil
	}

	err = c.bus.DispatchSync(ctx, cmd)

	switch {
	case err == nil:
		c.applied.Add(1)
	case errors.Is(err, berr.ErrNotFound):
		c.missing.Add(1)
	case errors.Is(err, berr.ErrHandlerNotFound):
		c.dropped.Add(1)
	default:
		c.failed.Add(1)
		c.logger.ErrorContext(ctx, "command not applied", "topic", msg.Topic, "message_type", cmd.MessageType(), "error", err)
	}

	return nil
}
