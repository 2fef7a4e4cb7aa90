package bus

// Command is a marker interface for commands (intent to change state).
// A command should have a single handler.
type Command interface{}

// Message is a single broker record as seen by adapters.
// Key is optional; adapters that support keyed partitioning use it for ordering.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Offset selects where a subscription starts when the broker has no stored position for it.
type Offset int

const (
	// OffsetEarliest replays everything the broker still retains.
	OffsetEarliest Offset = iota
	// OffsetLatest only delivers messages published after the subscription is live.
	OffsetLatest
)

// Subscription describes what a consume loop reads.
// An empty Group means every subscriber receives every message (broadcast); a non-empty
// Group load-balances messages across subscribers sharing it.
type Subscription struct {
	Topics []string
	Group  string
	Offset Offset
}
