package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, bus.Start(ctx))

	var received []string
	require.NoError(t, bus.Subscribe(ctx, TopicTrades, "bar-builder", func(ctx context.Context, msg *Message) error {
		received = append(received, string(msg.Payload))
		return bus.Checkpoint(ctx, TopicTrades, "bar-builder", msg.Offset)
	}))

	require.NoError(t, bus.Publish(ctx, TopicTrades, "BTC-USD", []byte("trade-1")))
	require.NoError(t, bus.Publish(ctx, TopicTrades, "BTC-USD", []byte("trade-2")))

	assert.Equal(t, []string{"trade-1", "trade-2"}, received)
	assert.Equal(t, int64(1), bus.LastCheckpoint(TopicTrades, "bar-builder"))
}

func TestMemoryBusRejectsBeforeStart(t *testing.T) {
	bus := NewMemoryBus()
	err := bus.Publish(context.Background(), TopicTrades, "BTC-USD", []byte("x"))
	assert.ErrorIs(t, err, ErrBusNotStarted)
}
