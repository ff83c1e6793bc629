package coinbase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

func TestToDomainTradeParsesFields(t *testing.T) {
	a := &WebSocketAdapter{}
	msg := wireMatch{
		Type:      "match",
		ProductID: "BTC-USD",
		Side:      "buy",
		Price:     "27123.45",
		Size:      "0.5",
		Time:      "2023-09-01T12:00:00.000000Z",
	}

	trade, err := a.toDomainTrade(msg)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", trade.ProductID)
	assert.Equal(t, domain.SideBuy, trade.Side)
	assert.Equal(t, 27123.45, trade.Price)
	assert.Equal(t, 0.5, trade.Volume)
	assert.Equal(t, "coinbase", trade.Exchange)
	assert.WithinDuration(t, time.Date(2023, 9, 1, 12, 0, 0, 0, time.UTC), trade.Timestamp, time.Second)
}

func TestToDomainTradeRejectsUnknownSide(t *testing.T) {
	a := &WebSocketAdapter{}
	_, err := a.toDomainTrade(wireMatch{ProductID: "BTC-USD", Side: "hold", Price: "1", Size: "1", Time: "2023-09-01T12:00:00Z"})
	assert.Error(t, err)
}

func TestToDomainTradeRejectsBadPrice(t *testing.T) {
	a := &WebSocketAdapter{}
	_, err := a.toDomainTrade(wireMatch{ProductID: "BTC-USD", Side: "buy", Price: "not-a-number", Size: "1", Time: "2023-09-01T12:00:00Z"})
	assert.Error(t, err)
}

func TestParseFloat(t *testing.T) {
	v, err := parseFloat("123.456")
	require.NoError(t, err)
	assert.Equal(t, 123.456, v)
}
