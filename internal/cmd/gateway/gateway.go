// Package gateway parses gateway configuration and runs the HTTP front door.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"

	"go.opentelemetry.io/otel"

	"github.com/next-trace/scg-device-relay/adapters/otelprop"
	"github.com/next-trace/scg-device-relay/gateway"
	entrypoint "github.com/next-trace/scg-device-relay/internal/platform/cmd"
	"github.com/next-trace/scg-device-relay/internal/platform/brokers"
	"github.com/next-trace/scg-device-relay/producer"
	"github.com/next-trace/scg-device-relay/rpc"
)

// Config holds gateway configuration. Backend URLs and every topic name are required.
type Config struct {
	entrypoint.Common

	Addr         string `env:"GATEWAY_ADDR"         envDefault:":80"`
	DevicesURL   string `env:"DEVICES_URL,notEmpty"`
	TelemetryURL string `env:"TELEMETRY_URL,notEmpty"`
	CORSOrigin   string `env:"CORS_ALLOW_ORIGIN"`

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

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fs.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Access-Control-Allow-Origin value")

	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Run serves the gateway until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, cfg.Common, func(ctx context.Context, logger *slog.Logger) error {
		devicesURL, err := url.Parse(cfg.DevicesURL)
		if err != nil {
			return fmt.Errorf("DEVICES_URL: %w", err)
		}

		telemetryURL, err := url.Parse(cfg.TelemetryURL)
		if err != nil {
			return fmt.Errorf("TELEMETRY_URL: %w", err)
		}

		b, cleanup, err := brokers.Open(ctx, cfg.Broker, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		prop := otelprop.New()

		prod := producer.New(b, producer.Topics{
			Devices:     cfg.DevicesTopic,
			Modules:     cfg.ModulesTopic,
			Telemetries: cfg.TelemetriesTopic,
		}, producer.WithPropagator(prop), producer.WithLogger(logger), producer.WithTracer(otel.Tracer("relay/gateway")))

		corr := rpc.NewCorrelator(b, rpc.Config{RequestTopic: cfg.RequestTopic, ResponseTopic: cfg.ResponseTopic},
			rpc.WithPropagator(prop), rpc.WithLogger(logger))
		if err := corr.Start(ctx); err != nil {
			return err
		}
		defer corr.Close()

		srv, err := gateway.New(gateway.Deps{
			DevicesURL:   devicesURL,
			TelemetryURL: telemetryURL,
			Sender:       prod,
			Caller:       corr,
			CORS:         gateway.DefaultCORS(cfg.CORSOrigin),
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		return entrypoint.Serve(ctx, cfg.Addr, srv, logger)
	})
}
