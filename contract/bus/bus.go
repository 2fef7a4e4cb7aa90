package bus

import "context"

// Handler processes one delivered message. Adapters invoke it sequentially per subscription,
// in the order the broker delivers messages. A returned error is logged by the adapter and the
// message is still acknowledged: consume loops never stall on a single message.
type Handler func(ctx context.Context, msg Message) error

// Publisher appends messages to broker topics.
// Publish returns once the broker accepted the write, not once anything consumed it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber opens consume loops.
//
// Subscribe returns once the subscription is live, or an error wrapping
// errors.ErrBrokerUnavailable when the broker cannot be reached. Messages are handed to h
// from a background goroutine until ctx is done or the returned Closer is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, sub Subscription, h Handler) (Closer, error)
}

// Closer controls a live subscription.
// Close stops receiving, waits for the in-flight handler to return, then releases the
// underlying broker subscription. Done is closed once that has happened.
type Closer interface {
	Close() error
	Done() <-chan struct{}
}

// Broker is a convenience interface combining both directions.
// Any adapter that implements Publisher and Subscriber can be wired into producers,
// consumers and the RPC correlator.
type Broker interface {
	Publisher
	Subscriber
}
