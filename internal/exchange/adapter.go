// Package exchange defines the shared contract every exchange-specific
// trade feed (websocket live, REST historical) implements, per spec.md
// §4.1.
package exchange

import (
	"context"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

// State is the lifecycle state of an Adapter's underlying connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Adapter is the shared contract for one trade feed, whether it is a
// websocket live stream or a REST historical backfill (spec.md §4.1).
// Callers drive it with Open, then repeatedly Next until IsDone, then
// Close. An Adapter is not safe for concurrent use by more than one
// goroutine.
type Adapter interface {
	// Open establishes the connection/cursor. It may block while a
	// websocket adapter connects and subscribes, or while a REST adapter
	// validates its starting cursor.
	Open(ctx context.Context) error

	// Next blocks until the next trade is available, ctx is done, or the
	// feed is exhausted. A historical adapter returns io.EOF-equivalent
	// behavior via IsDone once its backfill window is consumed; it never
	// returns a zero Trade with a nil error.
	Next(ctx context.Context) (domain.Trade, error)

	// IsDone reports whether the feed has been fully consumed. Live
	// websocket adapters always report false, including after Close.
	IsDone() bool

	// Close releases the underlying connection or file handles. Close is
	// idempotent.
	Close() error

	// State reports the adapter's current lifecycle state, for metrics and
	// logging.
	State() State

	// HeartbeatCount reports the cumulative number of heartbeat/keepalive
	// messages this adapter has suppressed from the trade stream, for the
	// Observability Sidecar's heartbeat_responses counter. Adapters with no
	// heartbeat concept (REST backfills, channels that don't emit one)
	// always return 0.
	HeartbeatCount() int64
}
