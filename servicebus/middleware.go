package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// Logging records each dispatch with its outcome and duration at debug level.
func Logging(logger *slog.Logger) CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next func(context.Context, any) error) func(context.Context, any) error {
		return func(ctx context.Context, cmd any) error {
			start := time.Now()
			err := next(ctx, cmd)

			attrs := []any{"command", fmt.Sprintf("%T", cmd), "duration", time.Since(start)}

			switch {
			case err == nil:
				logger.DebugContext(ctx, "command applied", attrs...)
			case errors.Is(err, berr.ErrNotFound):
				logger.DebugContext(ctx, "command target missing", append(attrs, "error", err)...)
			default:
				logger.DebugContext(ctx, "command failed", append(attrs, "error", err)...)
			}

			return err
		}
	}
}

// Tracing wraps each dispatch in a span named after the command type.
func Tracing(tracer trace.Tracer) CommandMiddleware {
	return func(next func(context.Context, any) error) func(context.Context, any) error {
		return func(ctx context.Context, cmd any) error {
			name := fmt.Sprintf("%T", cmd)

			ctx, span := tracer.Start(ctx, "dispatch "+name, trace.WithSpanKind(trace.SpanKindConsumer))
			defer span.End()

			span.SetAttributes(attribute.String("relay.command", name))

			err := next(ctx, cmd)
			if err != nil && !errors.Is(err, berr.ErrNotFound) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			return err
		}
	}
}
