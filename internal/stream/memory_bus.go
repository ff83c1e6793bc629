package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBus is an in-process EventBus: a partition-free stand-in for a
// Kafka-backed broker, adapted from the teacher's stub bus but trimmed to
// the trades/bars contract and extended with an explicit per-group
// checkpoint so internal/barrunner can exercise commit-after-process
// discipline even without a real broker behind it.
type MemoryBus struct {
	mu          sync.Mutex
	started     bool
	topics      map[string][]*Message
	subscribers map[string][]MessageHandler
	checkpoints map[string]int64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics:      make(map[string][]*Message),
		subscribers: make(map[string][]MessageHandler),
		checkpoints: make(map[string]int64),
	}
}

func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return nil
}

func (b *MemoryBus) Health() HealthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := "stopped"
	if b.started {
		status = "running"
	}
	return HealthStatus{Healthy: b.started, Status: status, LastCheck: time.Now()}
}

// Publish appends payload to topic and synchronously fans it out to every
// subscribed group. A handler that returns an error is not retried and the
// message is not redelivered: the first handler error stops the fan-out and
// is returned to the publisher, matching the stated propagation policy that
// retry decisions belong to the caller.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrBusNotStarted
	}
	offset := int64(len(b.topics[topic]))
	msg := &Message{
		ID:        fmt.Sprintf("%s-%d", topic, offset),
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Offset:    offset,
	}
	b.topics[topic] = append(b.topics[topic], msg)

	var handlers []MessageHandler
	for groupKey, hs := range b.subscribers {
		if groupTopic(groupKey) == topic {
			handlers = append(handlers, hs...)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for topic under group. Delivery happens
// synchronously inside Publish, in the goroutine of whoever publishes.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrBusNotStarted
	}
	key := topic + ":" + group
	b.subscribers[key] = append(b.subscribers[key], handler)
	return nil
}

// Checkpoint records the last successfully processed offset for
// (topic, group), implementing Checkpointer.
func (b *MemoryBus) Checkpoint(ctx context.Context, topic, group string, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoints[topic+":"+group] = offset
	return nil
}

// LastCheckpoint returns the last committed offset for (topic, group), or
// -1 if none has been committed yet.
func (b *MemoryBus) LastCheckpoint(topic, group string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	offset, ok := b.checkpoints[topic+":"+group]
	if !ok {
		return -1
	}
	return offset
}

func groupTopic(subscriptionKey string) string {
	for i := len(subscriptionKey) - 1; i >= 0; i-- {
		if subscriptionKey[i] == ':' {
			return subscriptionKey[:i]
		}
	}
	return subscriptionKey
}

var _ EventBus = (*MemoryBus)(nil)
var _ Checkpointer = (*MemoryBus)(nil)
