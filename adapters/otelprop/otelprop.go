// Package otelprop bridges bus.HeaderPropagator to the OpenTelemetry text map propagators.
package otelprop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
)

// Propagator carries W3C trace context and baggage in message headers.
// A nil TextMap falls back to the global propagator at call time.
type Propagator struct {
	TextMap propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

func New() Propagator {
	return Propagator{TextMap: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})}
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.textMap().Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.textMap().Extract(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) textMap() propagation.TextMapPropagator {
	if p.TextMap != nil {
		return p.TextMap
	}

	return otel.GetTextMapPropagator()
}
