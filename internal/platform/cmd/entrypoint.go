// Package cmd holds the startup plumbing shared by the relay binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/next-trace/scg-device-relay/internal/platform/brokers"
	"github.com/next-trace/scg-device-relay/internal/platform/config"
	"github.com/next-trace/scg-device-relay/internal/platform/logging"
	"github.com/next-trace/scg-device-relay/internal/platform/otel"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Service names used for telemetry and logs.
const (
	ServiceGateway   = "gateway"
	ServiceDevices   = "devices"
	ServiceTelemetry = "telemetry"
)

// Common is the configuration every binary shares.
type Common struct {
	Log    logging.Config
	OTel   otel.Config
	Broker brokers.Config
}

// ParseConfig loads environment values into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}

	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}

	if args == nil {
		args = []string{}
	}

	return fs.Parse(args)
}

// RunWithTelemetry builds the process logger, sets up tracing and executes run with both.
func RunWithTelemetry(ctx context.Context, service string, c Common, run func(context.Context, *slog.Logger) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}

	if run == nil {
		return errors.New("run function is required")
	}

	logger := logging.New(os.Stderr, c.Log).With("service", service)
	slog.SetDefault(logger)

	shutdown, err := otel.Setup(ctx, service, c.OTel)
	if err != nil {
		return fmt.Errorf("%s otel setup: %w", service, err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()

		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()

	logger.InfoContext(ctx, "starting", "broker", c.Broker.Driver)

	if err := run(ctx, logger); err != nil {
		return err
	}

	logger.InfoContext(ctx, "stopped")

	return nil
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return ServeListener(ctx, lis, h, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(ctx, "http listening", "addr", lis.Addr().String())

		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
