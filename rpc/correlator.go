package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
)

// DefaultTimeout applies when Call gets a zero or negative timeout.
const DefaultTimeout = 1000 * time.Millisecond

// Request is one device command sent over the request topic.
type Request struct {
	DeviceID    string
	CommandType envelope.CommandType
	Payload     string
}

// Reply is the outcome of a call. TimedOut is set when the deadline passed without a
// matching response; Error carries a failure reported by the responder.
type Reply struct {
	CorrelationID string
	Result        string
	Error         string
	TimedOut      bool
}

// Config names the request and response topics shared with the responder.
type Config struct {
	RequestTopic  string
	ResponseTopic string
}

type record struct {
	createdAt time.Time
	// zero until the request is published
	deadline time.Time
	done     chan envelope.Response
}

// Correlator matches responses to in-flight calls by correlation id.
type Correlator struct {
	broker cbus.Broker
	cfg    Config
	prop   cbus.HeaderPropagator
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu      sync.Mutex
	pending map[string]*record
	closer  cbus.Closer
}

// Option configures a Correlator or Responder.
type Option func(*options)

type options struct {
	prop   cbus.HeaderPropagator
	logger *slog.Logger
}

// WithPropagator carries trace context across the request and response messages.
func WithPropagator(hp cbus.HeaderPropagator) Option { return func(o *options) { o.prop = hp } }

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	o := options{prop: cbus.NopHeaderPropagator{}, logger: slog.Default()}
	for _, f := range opts {
		f(&o)
	}

	return o
}

// NewCorrelator returns a Correlator with no pending calls. Call Start before Call.
func NewCorrelator(b cbus.Broker, cfg Config, opts ...Option) *Correlator {
	o := buildOptions(opts)

	return &Correlator{
		broker:  b,
		cfg:     cfg,
		prop:    o.prop,
		logger:  o.logger,
		now:     time.Now,
		newID:   uuid.NewString,
		pending: make(map[string]*record),
	}
}

// Start opens the shared response subscription. It has no consumer group so every
// gateway instance sees every response, and starts from the latest offset.
func (c *Correlator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer != nil {
		return fmt.Errorf("rpc start: already started: %w", berr.ErrClosed)
	}

	sub := cbus.Subscription{Topics: []string{c.cfg.ResponseTopic}, Offset: cbus.OffsetLatest}

	closer, err := c.broker.Subscribe(ctx, sub, c.route)
	if err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}

	c.closer = closer
	c.logger.InfoContext(ctx, "rpc correlator listening", "response_topic", c.cfg.ResponseTopic)

	return nil
}

// Close stops the routing loop. Calls still waiting will time out.
func (c *Correlator) Close() error {
	c.mu.Lock()
	closer := c.closer
	c.mu.Unlock()

	if closer == nil {
		return nil
	}

	return closer.Close()
}

// Pending reports the number of live outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Call publishes req and waits for the matching response or the deadline, which is
// measured from the moment the broker accepted the request. A timeout returns a Reply
// with TimedOut set together with errors.ErrTimeout.
func (c *Correlator) Call(ctx context.Context, req Request, timeout time.Duration) (Reply, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	started := c.closer != nil
	c.mu.Unlock()

	if !started {
		return Reply{}, fmt.Errorf("rpc call: correlator not started: %w", berr.ErrClosed)
	}

	id := c.newID()
	wire := envelope.Request{CorrelationID: id, DeviceID: req.DeviceID, CommandType: req.CommandType, Payload: req.Payload}

	body, err := envelope.EncodeRequest(wire)
	if err != nil {
		return Reply{}, err
	}

	rec := &record{createdAt: c.now(), done: make(chan envelope.Response, 1)}
	if err := c.register(id, rec); err != nil {
		return Reply{}, err
	}

	headers := map[string]string{}
	c.prop.Inject(ctx, headers)

	msg := cbus.Message{Topic: c.cfg.RequestTopic, Key: []byte(id), Value: body, Headers: headers}
	if err := c.broker.Publish(ctx, msg); err != nil {
		c.remove(id)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrBrokerUnavailable) {
			return Reply{CorrelationID: id}, err
		}

		return Reply{CorrelationID: id}, fmt.Errorf("rpc call %s: %w", id, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	c.mu.Lock()
	rec.deadline = c.now().Add(timeout)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-rec.done:
		return replyOf(resp), nil
	case <-timer.C:
		if c.remove(id) {
			c.logger.DebugContext(ctx, "rpc call timed out", "correlation_id", id, "device_id", req.DeviceID, "timeout", timeout)
			return Reply{CorrelationID: id, TimedOut: true}, fmt.Errorf("rpc call %s after %s: %w", id, timeout, berr.ErrTimeout)
		}
	case <-ctx.Done():
		if c.remove(id) {
			return Reply{CorrelationID: id}, ctx.Err()
		}
	}

	// The routing loop claimed the record before the deadline; its send is already buffered.
	return replyOf(<-rec.done), nil
}

func (c *Correlator) register(id string, rec *record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, live := c.pending[id]; live {
		return fmt.Errorf("rpc call: correlation id %s already in use: %w", id, berr.ErrHandlerExists)
	}

	c.pending[id] = rec

	return nil
}

// remove deletes the record and reports whether this caller was the one to do so.
func (c *Correlator) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}

	delete(c.pending, id)

	return true
}

// route is the shared response loop handler. Lookup and removal happen under one lock,
// so at most one response completes a record.
func (c *Correlator) route(ctx context.Context, msg cbus.Message) error {
	resp, err := envelope.DecodeResponse(msg.Key, msg.Value)
	if err != nil {
		c.logger.DebugContext(ctx, "rpc dropping undecodable response", "error", err)
		return nil
	}

	now := c.now()

	c.mu.Lock()
	rec, ok := c.pending[resp.CorrelationID]
	late := ok && !rec.deadline.IsZero() && now.After(rec.deadline)

	if ok && !late {
		delete(c.pending, resp.CorrelationID)
	}
	c.mu.Unlock()

	switch {
	case !ok:
		c.logger.DebugContext(ctx, "rpc dropping unmatched response", "correlation_id", resp.CorrelationID)
	case late:
		c.logger.DebugContext(ctx, "rpc dropping late response", "correlation_id", resp.CorrelationID)
	default:
		rec.done <- resp
		c.logger.DebugContext(ctx, "rpc response matched", "correlation_id", resp.CorrelationID, "latency", now.Sub(rec.createdAt))
	}

	return nil
}

func replyOf(resp envelope.Response) Reply {
	return Reply{CorrelationID: resp.CorrelationID, Result: resp.Result, Error: resp.Error}
}
