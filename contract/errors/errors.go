package errors

// Error codes for the relay contracts. Keep stable; used across adapters, consumers and the gateway.
const (
	ErrCodeBrokerUnavailable   = "relay.broker_unavailable"
	ErrCodeDecode              = "relay.decode_failed"
	ErrCodeTimeout             = "relay.timeout"
	ErrCodeNotFound            = "relay.not_found"
	ErrCodeSerializationFailed = "relay.serialization_failed"
	ErrCodeHandlerExists       = "relay.handler_exists"
	ErrCodeHandlerNotFound     = "relay.handler_not_found"
	ErrCodeHandlerTypeMismatch = "relay.handler_type_mismatch"
	ErrCodeUnknownCommand      = "relay.unknown_command"
	ErrCodeInvalidRoute        = "relay.invalid_route"
	ErrCodeClosed              = "relay.closed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrBrokerUnavailable is returned when a publish or subscribe cannot reach the broker.
	ErrBrokerUnavailable = Code(ErrCodeBrokerUnavailable)
	// ErrDecode marks an envelope that cannot be parsed.
	ErrDecode = Code(ErrCodeDecode)
	// ErrTimeout is returned when an RPC call's deadline elapsed without a matching response.
	ErrTimeout = Code(ErrCodeTimeout)
	// ErrNotFound marks a mutation whose target entity does not exist.
	ErrNotFound = Code(ErrCodeNotFound)

	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound     = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch = Code(ErrCodeHandlerTypeMismatch)
	ErrUnknownCommand      = Code(ErrCodeUnknownCommand)
	ErrInvalidRoute        = Code(ErrCodeInvalidRoute)
	ErrClosed              = Code(ErrCodeClosed)
)
