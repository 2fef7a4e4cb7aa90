// Package brokers opens the broker adapter selected by configuration.
package brokers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/next-trace/scg-device-relay/adapters/inmemory"
	"github.com/next-trace/scg-device-relay/adapters/kafka"
	"github.com/next-trace/scg-device-relay/adapters/nats"
	"github.com/next-trace/scg-device-relay/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-device-relay/contract/bus"
)

const (
	DriverKafka    = "kafka"
	DriverNATS     = "nats"
	DriverRabbitMQ = "rabbitmq"
	DriverMemory   = "memory"
)

// Config selects and addresses the broker. Addrs holds the Kafka seed brokers, or a
// single URL for nats and rabbitmq.
type Config struct {
	Driver      string        `env:"BROKER_DRIVER"       envDefault:"kafka"`
	Addrs       []string      `env:"BROKER_ADDRS"        envSeparator:","`
	ClientID    string        `env:"BROKER_CLIENT_ID"`
	ConnTimeout time.Duration `env:"BROKER_CONN_TIMEOUT" envDefault:"5s"`
}

// Open connects the configured adapter. The returned cleanup releases the connection
// and must be called once the broker is no longer used.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (cbus.Broker, func(), error) { //nolint:ireturn
	if logger == nil {
		logger = slog.Default()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	if driver != DriverMemory && len(cfg.Addrs) == 0 {
		return nil, nil, fmt.Errorf("broker %s: BROKER_ADDRS is required", driver)
	}

	logger = logger.With("broker", driver)

	switch driver {
	case DriverKafka:
		ad, cleanup, err := kafka.NewWithKgo(ctx, kafka.Config{Brokers: cfg.Addrs, ClientID: cfg.ClientID}, logger)
		if err != nil {
			return nil, nil, err
		}

		return ad, cleanup, nil
	case DriverNATS:
		ad, cleanup, err := nats.NewWithNATS(nats.Config{URL: strings.Join(cfg.Addrs, ","), Name: cfg.ClientID, ConnTimeout: cfg.ConnTimeout}, logger)
		if err != nil {
			return nil, nil, err
		}

		return ad, cleanup, nil
	case DriverRabbitMQ:
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{URL: cfg.Addrs[0], ConnTimeout: cfg.ConnTimeout}, logger)
		if err != nil {
			return nil, nil, err
		}

		return ad, cleanup, nil
	case DriverMemory:
		return inmemory.New(logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
