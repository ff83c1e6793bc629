// Package stream defines the message-bus abstraction the producer and the
// bar builder runtime talk to (spec.md §4.2, §4.4): `trades` and `bars`
// topics, consumer groups, and at-least-once delivery with
// offset-commit-after-process semantics. The in-memory implementation here
// stands in for a real broker; internal/barrunner is written against this
// interface so swapping in a Kafka-backed EventBus is a one-line change.
package stream

import (
	"context"
	"errors"
	"time"
)

// Message is one published record.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	Timestamp time.Time
	Offset    int64
}

// MessageHandler processes one message. Returning an error does not retry
// automatically — the caller (internal/barrunner) decides whether the
// error is fatal per spec.md §7's propagation policy.
type MessageHandler func(ctx context.Context, msg *Message) error

// HealthStatus mirrors the operational visibility a real broker client
// would expose.
type HealthStatus struct {
	Healthy   bool
	Status    string
	LastCheck time.Time
}

// EventBus is the pub/sub contract shared by the Trade Producer (publisher)
// and the Bar Builder Runtime (subscriber).
type EventBus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus

	// Publish appends payload to topic, keyed by key (product_id), so that
	// all records for one product land in the same logical partition and
	// are delivered in order to a given consumer group.
	Publish(ctx context.Context, topic, key string, payload []byte) error

	// Subscribe registers handler for topic under group. Delivery is
	// at-least-once: handler may be invoked again for the same message
	// after a crash between delivery and Checkpoint.
	Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error
}

// Checkpointer is implemented by EventBus implementations that expose an
// explicit offset-commit step, letting a consumer mark a message processed
// only after it has durably applied its effects (spec.md §4.4: "offsets
// are stored after processing each message").
type Checkpointer interface {
	Checkpoint(ctx context.Context, topic, group string, offset int64) error
}

var (
	ErrBusNotStarted = errors.New("stream: bus not started")
	ErrUnknownTopic  = errors.New("stream: unknown topic")
)

const (
	TopicTrades = "trades"
	TopicBars   = "bars"
)
