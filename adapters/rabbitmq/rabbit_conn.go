package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// Concrete AMQP connection-backed constructor, a publisher with auto-reconnect and a queue consumer.

const (
	relayExchange   = "relay"
	relayExchangeTy = "topic"
	prefetch        = 64
)

// Config describes the AMQP connection.
type Config struct {
	URL         string
	ConnTimeout time.Duration
}

func dial(cfg Config) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-device-relay"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(relayExchange, relayExchangeTy, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

type reconnectingPublisher struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed when a channel is ready
}

func newReconnectingPublisher(cfg Config, logger *slog.Logger) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		logger: logger,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	rp.mu.RLock()
	ch, ready := rp.ch, rp.ready
	rp.mu.RUnlock()

	if ch == nil {
		select {
		case <-ready:
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrClosed)
		case <-ctx.Done():
			return ctx.Err()
		}

		rp.mu.RLock()
		ch = rp.ch
		rp.mu.RUnlock()

		if ch == nil {
			return fmt.Errorf("%w: rabbitmq not connected", berr.ErrBrokerUnavailable)
		}
	}

	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      h,
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

func (rp *reconnectingPublisher) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := dial(rp.cfg)
		if err != nil {
			rp.logger.Warn("rabbitmq connect failed", "backoff", backoff, "error", err)

			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			return
		case aerr := <-notify:
			rp.logger.Warn("rabbitmq connection lost, reconnecting", "error", aerr)

			rp.mu.Lock()
			rp.ch, rp.conn = nil, nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	select {
	case <-rp.closed:
		return
	default:
		close(rp.closed)
	}

	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}

	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// amqpConsumer opens a dedicated connection per subscription. A lost connection ends the
// subscription; the owner observes it through Closer.Done.
type amqpConsumer struct{ cfg Config }

func (c amqpConsumer) Consume(ctx context.Context, q QueueSpec) (<-chan Delivery, func() error, error) {
	conn, ch, err := dial(c.cfg)
	if err != nil {
		return nil, nil, err
	}

	fail := func(err error) (<-chan Delivery, func() error, error) {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fail(err)
	}

	declared, err := ch.QueueDeclare(q.Name, q.Durable, !q.Durable, !q.Durable, false, nil)
	if err != nil {
		return fail(err)
	}

	for _, rk := range q.RoutingKeys {
		if err := ch.QueueBind(declared.Name, rk, relayExchange, false, nil); err != nil {
			return fail(err)
		}
	}

	raw, err := ch.ConsumeWithContext(ctx, declared.Name, "", false, !q.Durable, false, false, nil)
	if err != nil {
		return fail(err)
	}

	out := make(chan Delivery)
	stop := make(chan struct{})

	go func() {
		defer close(out)

		for {
			select {
			case <-stop:
				return
			case d, ok := <-raw:
				if !ok {
					return
				}

				select {
				case out <- deliveryFromAMQP(d):
				case <-stop:
					// unacked deliveries are requeued by the broker when the channel closes
					return
				}
			}
		}
	}()

	var once sync.Once

	cancel := func() error {
		var err error

		once.Do(func() {
			close(stop)

			if cerr := ch.Close(); cerr != nil {
				err = cerr
			}

			if cerr := conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		})

		return err
	}

	return out, cancel, nil
}

func deliveryFromAMQP(d amqp.Delivery) Delivery {
	out := Delivery{
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Ack:        func() error { return d.Ack(false) },
	}

	if len(d.Headers) > 0 {
		out.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			out.Headers[k] = fmt.Sprint(v)
		}
	}

	return out
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the relay exchange, and returns Adapter and cleanup.
func NewWithAMQPConn(cfg Config, logger *slog.Logger) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrBrokerUnavailable)
	}

	ad := New(nil, amqpConsumer{cfg: cfg}, logger)

	pub, cleanup := newReconnectingPublisher(cfg, ad.Logger)
	ad.Publisher = pub

	return ad, cleanup, nil
}
