package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// Bus is a thin in-process mediator that routes a command to the single handler bound
// for its concrete type.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu     sync.RWMutex
	closed bool

	cmd map[reflect.Type]func(ctx context.Context, cmd any) error

	// global command middleware executed in registration order
	cmdMW []CommandMiddleware

	logger *slog.Logger
}

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// CommandMiddleware wraps command handler execution. Middlewares are executed in registration order.
type CommandMiddleware func(next func(ctx context.Context, cmd any) error) func(ctx context.Context, cmd any) error

// New constructs a new Bus.
func New(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		cmd:    make(map[reflect.Type]func(context.Context, any) error),
		logger: logger,
	}
	for _, o := range opts {
		o(b)
	}

	return b
}

// WithCommandMiddleware registers global command middleware via an option.
func WithCommandMiddleware(mw ...CommandMiddleware) BusOption {
	return func(b *Bus) { b.cmdMW = append(b.cmdMW, mw...) }
}

// BindCommand registers a handler for command type C. Duplicate bindings are rejected.
func BindCommand[C cbus.Command](b *Bus, h cbus.CommandHandler[C]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero C

	t := reflect.TypeOf(zero)

	if _, exists := b.cmd[t]; exists {
		return fmt.Errorf("bind command %s: %w", t.String(), berr.ErrHandlerExists)
	}

	b.cmd[t] = func(ctx context.Context, v any) error {
		c, ok := v.(C)
		if !ok {
			return fmt.Errorf("dispatch %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, c)
	}

	return nil
}

// Handles reports whether a handler is bound for the concrete type of cmd.
func (b *Bus) Handles(cmd cbus.Command) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.cmd[reflect.TypeOf(cmd)]

	return ok
}

// DispatchSync executes the command handler synchronously (with middleware).
func (b *Bus) DispatchSync(ctx context.Context, cmd cbus.Command) error {
	b.mu.RLock()
	closed := b.closed
	f, ok := b.cmd[reflect.TypeOf(cmd)]
	b.mu.RUnlock()

	if closed {
		return fmt.Errorf("dispatch %T: %w", cmd, berr.ErrClosed)
	}

	if !ok {
		return fmt.Errorf("dispatch %T: %w", cmd, berr.ErrHandlerNotFound)
	}

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(b.cmdMW) - 1; i >= 0; i-- {
		final = b.cmdMW[i](final)
	}

	return final(ctx, cmd)
}

// Close rejects further dispatches with errors.ErrClosed. Dispatches already running finish normally.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.logger.Debug("servicebus closed", "handlers", len(b.cmd))
	}

	return nil
}
