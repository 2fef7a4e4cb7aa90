// Package telemetry parses telemetry-service configuration and runs its consumer and
// read API.
package telemetry

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/next-trace/scg-device-relay/adapters/otelprop"
	"github.com/next-trace/scg-device-relay/consumer"
	entrypoint "github.com/next-trace/scg-device-relay/internal/platform/cmd"
	"github.com/next-trace/scg-device-relay/internal/platform/brokers"
	"github.com/next-trace/scg-device-relay/servicebus"
	"github.com/next-trace/scg-device-relay/storage"
	"github.com/next-trace/scg-device-relay/storage/memory"
	"github.com/next-trace/scg-device-relay/storage/postgres"
	"github.com/next-trace/scg-device-relay/telemetry"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds telemetry-service configuration.
type Config struct {
	entrypoint.Common

	Addr        string `env:"TELEMETRY_ADDR" envDefault:":80"`
	StoreDriver string `env:"STORE_DRIVER"   envDefault:"postgres"`
	DSN         string `env:"DATABASE_DSN"`

	Group            string `env:"TELEMETRY_GROUP,notEmpty"`
	TelemetriesTopic string `env:"TOPIC_TELEMETRIES,notEmpty"`
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

// OpenStore returns the configured telemetry store and a cleanup that releases it.
func OpenStore(ctx context.Context, cfg Config, logger *slog.Logger) (storage.TelemetryStore, func(), error) { //nolint:ireturn
	switch cfg.StoreDriver {
	case StoreMemory:
		return memory.New(), func() {}, nil
	case StorePostgres:
		db, err := postgres.Connect(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}

		if err := db.MigrateTelemetry(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return postgres.NewTelemetryRepository(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Run consumes telemetry commands and serves the read API until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTelemetry, cfg.Common, func(ctx context.Context, logger *slog.Logger) error {
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

		bus := servicebus.New(logger, servicebus.WithCommandMiddleware(servicebus.Tracing(otel.Tracer("relay/telemetry")), servicebus.Logging(logger)))
		defer bus.Close()

		if err := telemetry.Register(bus, store); err != nil {
			return err
		}

		cons := consumer.New(b, bus, consumer.Config{Topics: []string{cfg.TelemetriesTopic}, Group: cfg.Group},
			consumer.WithPropagator(otelprop.New()), consumer.WithLogger(logger))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return cons.Run(gctx) })
		g.Go(func() error { return entrypoint.Serve(gctx, cfg.Addr, telemetry.NewAPI(store), logger) })

		return g.Wait()
	})
}
