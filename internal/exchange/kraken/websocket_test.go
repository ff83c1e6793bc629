package kraken

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

func TestToDomainTradeNormalizesSymbol(t *testing.T) {
	a := &WebSocketAdapter{productIDs: []string{"BTC-USD"}, label: "BTC-USD"}
	wt := wireTrade{Symbol: "BTC/USD", Side: "buy", Price: 27000, Qty: 0.25, Timestamp: "2023-09-01T12:00:00.123456Z"}

	trade, err := a.toDomainTrade(wt)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", trade.ProductID)
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, 27000.0, trade.Price)
	assert.Equal(t, 0.25, trade.Volume)
	assert.Equal(t, "kraken", trade.Exchange)
}

func TestToDomainTradeRejectsUnmappedSymbol(t *testing.T) {
	a := &WebSocketAdapter{productIDs: []string{"BTC-USD"}, label: "BTC-USD"}
	_, err := a.toDomainTrade(wireTrade{Symbol: "DOGE/USD", Side: "buy", Price: 1, Qty: 1, Timestamp: "2023-09-01T12:00:00Z"})
	assert.Error(t, err)
}

func TestToDomainTradeRejectsBadTimestamp(t *testing.T) {
	a := &WebSocketAdapter{productIDs: []string{"BTC-USD"}, label: "BTC-USD"}
	_, err := a.toDomainTrade(wireTrade{Symbol: "BTC/USD", Side: "buy", Price: 1, Qty: 1, Timestamp: "not-a-time"})
	assert.Error(t, err)
}

func TestReconnectDelayIsBounded(t *testing.T) {
	d0 := ReconnectDelay(0)
	d10 := ReconnectDelay(10)

	assert.GreaterOrEqual(t, d0, time.Duration(0))
	assert.LessOrEqual(t, d0, 500*time.Millisecond)
	assert.LessOrEqual(t, d10, 30*time.Second)
}

func TestHeartbeatCountStartsAtZero(t *testing.T) {
	a := NewWebSocketAdapter("", []string{"BTC-USD"}, zerolog.Nop())
	assert.Equal(t, int64(0), a.HeartbeatCount())
}
