package bus

import "context"

// HeaderPropagator carries trace context across the broker in message headers.
// Inject writes into headers; Extract returns ctx enriched with what Inject stored.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator leaves headers and contexts untouched. Components default to it.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

func (NopHeaderPropagator) Extract(ctx context.Context, _ map[string]string) context.Context {
	return ctx
}
