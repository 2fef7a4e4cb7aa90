package bus

import "context"

// CommandHandler handles commands of type C.
// Implementations must be safe for concurrent use by multiple goroutines.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, c C) error
}

// CommandHandlerFunc adapts a plain function to CommandHandler.
type CommandHandlerFunc[C Command] func(ctx context.Context, c C) error

func (f CommandHandlerFunc[C]) Handle(ctx context.Context, c C) error { return f(ctx, c) }
