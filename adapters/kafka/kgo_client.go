package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// Concrete franz-go based constructor, writer and source.

const (
	pingTimeout = 5 * time.Second
	// allowance for producers whose clocks run behind this host
	clockSkew = time.Second
)

// Config holds the franz-go client settings shared by writer and readers.
type Config struct {
	Brokers     []string
	ClientID    string
	TLS         *tls.Config
	Compression bool
}

func (cfg Config) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.AllowAutoTopicCreation()}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoSource struct {
	cl    *kgo.Client
	group bool
}

func (s *kgoSource) Poll(ctx context.Context) ([]*kgo.Record, error) {
	fetches := s.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, berr.ErrClosed
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		errs = append(errs, fmt.Errorf("%s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}

	recs := fetches.Records()
	if len(recs) > 0 {
		// partial fetch errors are retried by the client; hand over what arrived
		return recs, nil
	}

	return nil, errors.Join(errs...)
}

func (s *kgoSource) Commit(ctx context.Context, recs []*kgo.Record) error {
	if !s.group {
		return nil
	}

	return s.cl.CommitRecords(ctx, recs...)
}

func (s *kgoSource) Close() { s.cl.Close() }

func newClient(ctx context.Context, opts []kgo.Opt) (*kgo.Client, error) {
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := cl.Ping(pctx); err != nil {
		cl.Close()
		return nil, err
	}

	return cl, nil
}

// resetOffset picks where a subscription without committed offsets starts. kgo lists
// partition offsets in the background after the client is built, so a plain AtEnd would
// be resolved some time after Subscribe returns and could skip records produced in that
// window. A groupless latest subscription is instead pinned to the subscribe time, less
// clockSkew; the few older records this may replay are ignored by their consumers.
func resetOffset(sub cbus.Subscription, now time.Time) kgo.Offset {
	switch {
	case sub.Offset == cbus.OffsetEarliest:
		return kgo.NewOffset().AtStart()
	case sub.Group != "":
		return kgo.NewOffset().AtEnd()
	default:
		return kgo.NewOffset().AfterMilli(now.Add(-clockSkew).UnixMilli())
	}
}

func sourceFactory(cfg Config) SourceFactory {
	return func(ctx context.Context, sub cbus.Subscription) (Source, error) {
		opts := append(cfg.baseOpts(),
			kgo.ConsumeTopics(sub.Topics...),
			kgo.ConsumeResetOffset(resetOffset(sub, time.Now())),
		)
		if sub.Group != "" {
			opts = append(opts, kgo.ConsumerGroup(sub.Group), kgo.DisableAutoCommit())
		}

		cl, err := newClient(ctx, opts)
		if err != nil {
			return nil, err
		}

		return &kgoSource{cl: cl, group: sub.Group != ""}, nil
	}
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(ctx context.Context, cfg Config, logger *slog.Logger) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrBrokerUnavailable)
	}

	opts := cfg.baseOpts()
	opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))

	if cfg.Compression {
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	}

	cl, err := newClient(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrBrokerUnavailable, err)
	}

	ad := New(kgoWriter{cl: cl}, sourceFactory(cfg), logger)
	cleanup := func() { cl.Close() }

	return ad, cleanup, nil
}
