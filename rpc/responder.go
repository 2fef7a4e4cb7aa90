package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
)

// Executor runs one device command and returns its textual result.
type Executor interface {
	Execute(ctx context.Context, req envelope.Request) (string, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, req envelope.Request) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, req envelope.Request) (string, error) {
	return f(ctx, req)
}

// ResponderConfig names the topics a Responder serves and the group it consumes requests in.
type ResponderConfig struct {
	RequestTopic  string
	ResponseTopic string
	Group         string
}

// Responder executes device requests and publishes one response per request.
type Responder struct {
	broker cbus.Broker
	cfg    ResponderConfig
	exec   Executor
	prop   cbus.HeaderPropagator
	logger *slog.Logger
}

// NewResponder returns a Responder running requests through exec.
func NewResponder(b cbus.Broker, cfg ResponderConfig, exec Executor, opts ...Option) *Responder {
	o := buildOptions(opts)

	return &Responder{broker: b, cfg: cfg, exec: exec, prop: o.prop, logger: o.logger}
}

// Run consumes requests until ctx is cancelled. Every request that carries a correlation
// id gets exactly one response, including requests that fail validation.
func (r *Responder) Run(ctx context.Context) error {
	sub := cbus.Subscription{Topics: []string{r.cfg.RequestTopic}, Group: r.cfg.Group, Offset: cbus.OffsetLatest}

	closer, err := r.broker.Subscribe(ctx, sub, r.handle)
	if err != nil {
		return fmt.Errorf("rpc responder subscribe: %w", err)
	}

	r.logger.InfoContext(ctx, "rpc responder listening", "request_topic", r.cfg.RequestTopic, "group", r.cfg.Group)

	select {
	case <-ctx.Done():
		return closer.Close()
	case <-closer.Done():
		if ctx.Err() != nil {
			return closer.Close()
		}

		return fmt.Errorf("rpc responder: subscription ended: %w", errors.Join(berr.ErrBrokerUnavailable, closer.Close()))
	}
}

func (r *Responder) handle(ctx context.Context, msg cbus.Message) error {
	ctx = r.prop.Extract(ctx, msg.Headers)

	req, err := envelope.DecodeRequest(msg.Key, msg.Value)
	if err != nil {
		if len(msg.Key) == 0 {
			r.logger.WarnContext(ctx, "rpc dropping request without correlation id", "error", err)
			return nil
		}

		return r.reply(ctx, envelope.Response{CorrelationID: string(msg.Key), Error: err.Error()})
	}

	resp := envelope.Response{CorrelationID: req.CorrelationID}

	result, err := r.exec.Execute(ctx, req)
	if err != nil {
		r.logger.InfoContext(ctx, "rpc command failed", "correlation_id", req.CorrelationID, "device_id", req.DeviceID,
			"command", req.CommandType, "error", err)
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	return r.reply(ctx, resp)
}

func (r *Responder) reply(ctx context.Context, resp envelope.Response) error {
	body, err := envelope.EncodeResponse(resp)
	if err != nil {
		return err
	}

	headers := map[string]string{}
	r.prop.Inject(ctx, headers)

	msg := cbus.Message{Topic: r.cfg.ResponseTopic, Key: []byte(resp.CorrelationID), Value: body, Headers: headers}
	if err := r.broker.Publish(ctx, msg); err != nil {
		return fmt.Errorf("rpc reply %s: %w", resp.CorrelationID, err)
	}

	return nil
}
