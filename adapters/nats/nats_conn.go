package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

const (
	defaultReconnectWait = 2 * time.Second
	// core NATS gives no delivery acknowledgement; the flush bounds how long a publish
	// waits for the server to have read it.
	flushTimeout = 5 * time.Second
)

// Config addresses a NATS server or cluster. URL may list several servers separated by
// commas. MaxReconnects < 0 reconnects forever.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

// connClient is the Client backed by a live connection.
type connClient struct {
	nc *nats.Conn
}

func (c connClient) Publish(subject string, data []byte, headers map[string]string) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats %s: %w", c.nc.Status(), nats.ErrConnectionClosed)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.FlushTimeout(flushTimeout)
}

func (c connClient) Subscribe(subject, queue string, ch chan *nats.Msg) (Unsubscriber, error) {
	if queue == "" {
		return c.nc.ChanSubscribe(subject, ch)
	}

	return c.nc.ChanQueueSubscribe(subject, queue, ch)
}

func (cfg Config) options(logger *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "server", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("nats connection closed")
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	return opts
}

// NewWithNATS connects to cfg.URL and returns an Adapter with a cleanup that drains the
// connection. Pending subscriptions are flushed before the connection closes.
func NewWithNATS(cfg Config, logger *slog.Logger) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrBrokerUnavailable)
	}

	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL, cfg.options(logger)...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", errors.Join(berr.ErrBrokerUnavailable, err))
	}

	logger.Info("nats connected", "server", nc.ConnectedUrlRedacted())

	cleanup := func() {
		if nc.IsClosed() {
			return
		}

		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain", "error", err)
			nc.Close()
		}
	}

	return New(connClient{nc: nc}, logger), cleanup, nil
}
