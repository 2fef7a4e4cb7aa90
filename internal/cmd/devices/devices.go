// Package devices parses devices-service configuration and runs its consumer, RPC
// responder and read API.
package devices

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/next-trace/scg-device-relay/adapters/otelprop"
	"github.com/next-trace/scg-device-relay/consumer"
	"github.com/next-trace/scg-device-relay/devices"
	entrypoint "github.com/next-trace/scg-device-relay/internal/platform/cmd"
	"github.com/next-trace/scg-device-relay/internal/platform/brokers"
	"github.com/next-trace/scg-device-relay/producer"
	"github.com/next-trace/scg-device-relay/rpc"
	"github.com/next-trace/scg-device-relay/servicebus"
	"github.com/next-trace/scg-device-relay/storage"
	"github.com/next-trace/scg-device-relay/storage/memory"
	"github.com/next-trace/scg-device-relay/storage/postgres"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds devices-service configuration. Consumer groups and every topic name are
// required.
type Config struct {
	entrypoint.Common

	Addr        string `env:"DEVICES_ADDR"         envDefault:":80"`
	StoreDriver string `env:"STORE_DRIVER"         envDefault:"postgres"`
	DSN         string `env:"DATABASE_DSN"`

	Group    string `env:"DEVICES_GROUP,notEmpty"`
	RPCGroup string `env:"DEVICES_RPC_GROUP,notEmpty"`

	DevicesTopic     string `env:"TOPIC_DEVICES,notEmpty"`
	ModulesTopic     string `env:"TOPIC_MODULES,notEmpty"`
	TelemetriesTopic string `env:"TOPIC_TELEMETRIES,notEmpty"`
	RequestTopic     string `env:"TOPIC_RPC_REQUESTS,notEmpty"`
	ResponseTopic    string `env:"TOPIC_RPC_RESPONSES,notEmpty"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address for the read API")
	fs.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "store driver: postgres or memory")

	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	if cfg.StoreDriver == StorePostgres && cfg.DSN == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN is required for the %s store", StorePostgres)
	}

	return cfg, nil
}

// OpenStore returns the configured device store and a cleanup that releases it.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (storage.DeviceStore, func(), error) { //nolint:ireturn
	switch cfg.StoreDriver {
	case StoreMemory:
		return memory.New(), func() {}, nil
	case StorePostgres:
		db, err := postgres.Connect(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}

		if err := db.MigrateDevices(ctx, storage.DefaultDeviceTypes()...); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return postgres.NewDeviceRepository(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Run consumes device and module commands, answers device command calls and serves the
// read API until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDevices, cfg.Common, func(ctx context.Context, logger *slog.Logger) error {
		store, closeStore, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		b, closeBroker, err := brokers.Open(ctx, cfg.Broker, logger)
		if err != nil {
			return err
		}
		defer closeBroker()

		tracer := otel.Tracer("relay/devices")
		prop := otelprop.New()

		bus := servicebus.New(logger, servicebus.WithCommandMiddleware(servicebus.Tracing(tracer), servicebus.Logging(logger)))
		defer bus.Close()

		if err := devices.Register(bus, store); err != nil {
			return err
		}

		cons := consumer.New(b, bus, consumer.Config{
			Topics: []string{cfg.DevicesTopic, cfg.ModulesTopic},
			Group:  cfg.Group,
		}, consumer.WithPropagator(prop), consumer.WithLogger(logger))

		sink := producer.New(b, producer.Topics{Telemetries: cfg.TelemetriesTopic},
			producer.WithPropagator(prop), producer.WithLogger(logger), producer.WithTracer(tracer))

		resp := rpc.NewResponder(b, rpc.ResponderConfig{
			RequestTopic:  cfg.RequestTopic,
			ResponseTopic: cfg.ResponseTopic,
			Group:         cfg.RPCGroup,
		}, devices.NewExecutor(store, sink, logger), rpc.WithPropagator(prop), rpc.WithLogger(logger))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return cons.Run(gctx) })
		g.Go(func() error { return resp.Run(gctx) })
		g.Go(func() error { return entrypoint.Serve(gctx, cfg.Addr, devices.NewAPI(store), logger) })

		return g.Wait()
	})
}
