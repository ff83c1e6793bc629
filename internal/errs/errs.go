// Package errs implements the error taxonomy from spec.md §7: each kind
// carries structured {exchange, product_id, kind} context for logging and
// dictates its own recovery policy (fatal vs. adapter-local retry).
package errs

import "fmt"

// Kind identifies which taxonomy bucket an error falls into.
type Kind string

const (
	KindConfig         Kind = "ConfigError"
	KindConnect        Kind = "ConnectError"
	KindProtocol       Kind = "ProtocolError"
	KindRateLimit      Kind = "RateLimitError"
	KindSerialization  Kind = "SerializationError"
	KindBus            Kind = "BusError"
	KindState          Kind = "StateError"
)

// Error wraps a cause with the taxonomy kind plus exchange/product context.
type Error struct {
	Kind      Kind
	Exchange  string
	ProductID string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s exchange=%q product_id=%q", e.Kind, e.Exchange, e.ProductID)
	}
	return fmt.Sprintf("%s exchange=%q product_id=%q: %v", e.Kind, e.Exchange, e.ProductID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Fatal reports whether this error kind tears down the whole process
// (spec.md §7 propagation policy) rather than being isolated to one
// adapter/key.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindConfig, KindSerialization, KindState:
		return true
	default:
		return false
	}
}

func New(kind Kind, exchange, productID string, cause error) *Error {
	return &Error{Kind: kind, Exchange: exchange, ProductID: productID, Cause: cause}
}

func Config(cause error) *Error { return New(KindConfig, "", "", cause) }

func Connect(exchange, productID string, cause error) *Error {
	return New(KindConnect, exchange, productID, cause)
}

func Protocol(exchange, productID string, cause error) *Error {
	return New(KindProtocol, exchange, productID, cause)
}

func RateLimit(exchange string, cause error) *Error {
	return New(KindRateLimit, exchange, "", cause)
}

func Serialization(exchange, productID string, cause error) *Error {
	return New(KindSerialization, exchange, productID, cause)
}

func Bus(cause error) *Error { return New(KindBus, "", "", cause) }

func State(productID string, cause error) *Error {
	return New(KindState, "", productID, cause)
}
