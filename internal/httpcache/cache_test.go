package httpcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cache, err := New(t.TempDir())
	require.NoError(t, err)

	url := "https://api.kraken.com/0/public/Trades?pair=XBTUSD&since=0"
	assert.False(t, cache.Has(url))

	entry := Entry{
		Trades: []domain.Trade{{
			ProductID: "BTC-USD",
			Side:      domain.SideBuy,
			Price:     100,
			Volume:    1,
			Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
			Exchange:  "kraken",
		}},
		LastTradeMs: 1_700_000_000_000,
	}
	require.NoError(t, cache.Write(url, entry))
	assert.True(t, cache.Has(url))

	got, ok, err := cache.Read(url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.LastTradeMs, got.LastTradeMs)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, entry.Trades[0].ProductID, got.Trades[0].ProductID)
}

func TestReadMissingEntry(t *testing.T) {
	cache, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := cache.Read("https://example.com/nothing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteEmptyTradesIsNoop(t *testing.T) {
	cache, err := New(t.TempDir())
	require.NoError(t, err)

	url := "https://api.kraken.com/0/public/Trades?pair=XBTUSD&since=1"
	require.NoError(t, cache.Write(url, Entry{}))
	assert.False(t, cache.Has(url))
}

func TestDistinctURLsDoNotCollide(t *testing.T) {
	cache, err := New(t.TempDir())
	require.NoError(t, err)

	a := "https://api.kraken.com/0/public/Trades?pair=XBTUSD&since=0"
	b := "https://api.kraken.com/0/public/Trades?pair=ETHUSD&since=0"
	assert.NotEqual(t, cache.pathFor(a), cache.pathFor(b))
}
