// Package loop holds the consume-loop plumbing shared by the broker adapters.
package loop

import (
	"context"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
)

// Handle is a cbus.Closer backed by a single goroutine.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ cbus.Closer = (*Handle)(nil)

// Go runs fn on a background goroutine with a context derived from ctx.
// release runs after fn returned and its error is reported by Close.
func Go(ctx context.Context, fn func(ctx context.Context), release func() error) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		fn(ctx)

		if release != nil {
			h.err = release()
		}
	}()

	return h
}

// Close cancels the loop and waits for it, including the in-flight handler, to finish.
func (h *Handle) Close() error {
	h.cancel()
	<-h.done

	return h.err
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Deliver invokes h for msg. The handler context is detached from loop cancellation so
// that shutdown never aborts a mutation halfway. Errors and panics are logged, never returned.
func Deliver(ctx context.Context, logger *slog.Logger, label string, h cbus.Handler, msg cbus.Message) {
	hctx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(hctx, label+" handler panic", "topic", msg.Topic, "panic", fmt.Sprint(r))
		}
	}()

	if err := h(hctx, msg); err != nil {
		logger.WarnContext(hctx, label+" handler failed", "topic", msg.Topic, "error", err)
	}
}

// Logger returns l, or slog.Default() when l is nil.
func Logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}

	return l
}
