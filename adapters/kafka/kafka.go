package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-device-relay/adapters/internal/loop"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

const pollRetryDelay = 250 * time.Millisecond

// Writer is a minimal Kafka-like writer interface.
// The franz-go backed implementation lives in kgo_client.go; tests inject fakes.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Source is one consumer's view of the subscribed topics.
// Poll blocks until records arrive or ctx is done; Commit marks records as processed.
type Source interface {
	Poll(ctx context.Context) ([]*kgo.Record, error)
	Commit(ctx context.Context, recs []*kgo.Record) error
	Close()
}

// SourceFactory opens a Source for a subscription.
type SourceFactory func(ctx context.Context, sub cbus.Subscription) (Source, error)

// Adapter implements cbus.Broker using an injected Writer and SourceFactory.
type Adapter struct {
	Writer    Writer
	NewSource SourceFactory
	Logger    *slog.Logger
}

var _ cbus.Broker = (*Adapter)(nil)

// New creates a new Kafka adapter instance.
func New(w Writer, src SourceFactory, logger *slog.Logger) *Adapter {
	return &Adapter{Writer: w, NewSource: src, Logger: loop.Logger(logger)}
}

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrBrokerUnavailable)
	}

	if err := a.Writer.Write(ctx, msg.Topic, msg.Key, msg.Value, msg.Headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish to %q: %w", msg.Topic, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, sub cbus.Subscription, h cbus.Handler) (cbus.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.NewSource == nil || len(sub.Topics) == 0 {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrBrokerUnavailable)
	}

	src, err := a.NewSource(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %v: %w", sub.Topics, errors.Join(berr.ErrBrokerUnavailable, err))
	}

	logger := loop.Logger(a.Logger)
	logger.InfoContext(ctx, "kafka subscription started", "topics", sub.Topics, "group", sub.Group)

	release := func() error {
		src.Close()
		return nil
	}

	return loop.Go(ctx, func(ctx context.Context) { a.consume(ctx, src, h, logger) }, release), nil
}

func (a *Adapter) consume(ctx context.Context, src Source, h cbus.Handler, logger *slog.Logger) {
	for {
		recs, err := src.Poll(ctx)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, berr.ErrClosed) {
			return
		}

		if err != nil {
			logger.ErrorContext(ctx, "kafka poll failed", "error", err)

			if !sleep(ctx, pollRetryDelay) {
				return
			}

			continue
		}

		done := make([]*kgo.Record, 0, len(recs))

		for _, rec := range recs {
			// finish the current record, never start a new one after shutdown
			if ctx.Err() != nil {
				break
			}

			loop.Deliver(ctx, logger, "kafka", h, messageFromRecord(rec))
			done = append(done, rec)
		}

		if len(done) == 0 {
			continue
		}

		if err := src.Commit(context.WithoutCancel(ctx), done); err != nil {
			logger.WarnContext(ctx, "kafka commit failed", "records", len(done), "error", err)
		}
	}
}

func messageFromRecord(rec *kgo.Record) cbus.Message {
	msg := cbus.Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}

	if len(rec.Headers) > 0 {
		msg.Headers = make(map[string]string, len(rec.Headers))
		for _, hdr := range rec.Headers {
			msg.Headers[hdr.Key] = string(hdr.Value)
		}
	}

	return msg
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
