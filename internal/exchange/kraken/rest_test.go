package kraken

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/logging"
)

func tradesRow(price, volume string, unixSeconds float64, side string) []json.RawMessage {
	marshal := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	return []json.RawMessage{
		marshal(price), marshal(volume), marshal(unixSeconds), marshal(side),
		marshal("m"), marshal(""), marshal(1),
	}
}

func rawResult(t *testing.T, rows [][]json.RawMessage, last string) json.RawMessage {
	t.Helper()
	m := map[string]any{"XBTUSD": rows}
	if last != "" {
		m["last"] = last
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func encodeResponse(t *testing.T, w http.ResponseWriter, errList []string, rows [][]json.RawMessage, last string) {
	t.Helper()
	resp := struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}{Error: errList, Result: rawResult(t, rows, last)}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestRESTAdapterPaginatesAndAdvancesCursor(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			encodeResponse(t, w, nil, [][]json.RawMessage{
				tradesRow("100.0", "1.0", 1000, "b"),
				tradesRow("101.0", "2.0", 1000, "s"),
			}, "1000000000")
		case 2:
			encodeResponse(t, w, nil, [][]json.RawMessage{
				tradesRow("102.0", "1.5", 2000, "b"),
			}, "2000000000")
		default:
			encodeResponse(t, w, nil, nil, "2000000000")
		}
	}))
	defer server.Close()

	origBase := restBaseURL
	restBaseURL = server.URL
	defer func() { restBaseURL = origBase }()

	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 0, 3000*1000, nil, nil, logging.New("test"))
	require.NoError(t, adapter.Open(context.Background()))

	var got []float64
	for {
		trade, err := adapter.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, trade.Price)
	}

	assert.Equal(t, []float64{100.0, 101.0, 102.0}, got)
	assert.True(t, adapter.IsDone())
}

// TestRESTAdapterDropsOverlappingBoundaryTrade covers spec.md §8 scenario 4:
// page A ends with a trade, page B begins with that same trade (Kraken's
// since-cursor pagination is inclusive); it must be emitted exactly once.
func TestRESTAdapterDropsOverlappingBoundaryTrade(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			encodeResponse(t, w, nil, [][]json.RawMessage{
				tradesRow("100.0", "1.0", 1000, "b"),
				tradesRow("101.0", "2.0", 1500, "s"),
			}, "1500000000")
		case 2:
			// Inclusive of the since-cursor: the boundary trade (101.0 @
			// 1500s) reappears as this page's first row.
			encodeResponse(t, w, nil, [][]json.RawMessage{
				tradesRow("101.0", "2.0", 1500, "s"),
				tradesRow("102.0", "1.5", 2000, "b"),
			}, "2000000000")
		default:
			encodeResponse(t, w, nil, nil, "2000000000")
		}
	}))
	defer server.Close()

	origBase := restBaseURL
	restBaseURL = server.URL
	defer func() { restBaseURL = origBase }()

	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 0, 3000*1000, nil, nil, logging.New("test"))
	require.NoError(t, adapter.Open(context.Background()))

	var got []float64
	for {
		trade, err := adapter.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, trade.Price)
	}

	assert.Equal(t, []float64{100.0, 101.0, 102.0}, got)
}

func TestRESTAdapterClassifiesRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Error  []string        `json:"error"`
			Result json.RawMessage `json:"result"`
		}{Error: []string{"EAPI:Rate limit exceeded: Too many requests"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	origBase := restBaseURL
	restBaseURL = server.URL
	defer func() { restBaseURL = origBase }()

	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 0, 3000*1000, nil, nil, logging.New("test"))
	require.NoError(t, adapter.Open(context.Background()))

	_, err := adapter.Next(context.Background())
	require.Error(t, err)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.KindRateLimit, typed.Kind)
}

func TestDecodeRowRejectsShortRow(t *testing.T) {
	_, err := decodeRow("BTC-USD", []json.RawMessage{[]byte(`"100"`)})
	assert.Error(t, err)
}

func TestDecodeRowParsesFields(t *testing.T) {
	row := tradesRow("100.5", "2.25", 1_600_000_000, "b")
	trade, err := decodeRow("BTC-USD", row)
	require.NoError(t, err)
	assert.Equal(t, 100.5, trade.Price)
	assert.Equal(t, 2.25, trade.Volume)
	assert.Equal(t, "BTC-USD", trade.ProductID)
	assert.WithinDuration(t, time.Unix(1_600_000_000, 0).UTC(), trade.Timestamp, time.Second)
}

func TestApplyPageAdvancesCursorByOneWhenLastMsUnchanged(t *testing.T) {
	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 1000, 1_000_000, nil, nil, logging.New("test"))
	adapter.lastMs = 1000

	adapter.applyPage([]domain.Trade{{ProductID: "BTC-USD", Timestamp: time.UnixMilli(1000)}}, 1000)
	assert.Equal(t, int64(1001), adapter.lastMs)
}

func TestApplyPageSetsCursorDirectlyWhenAdvanced(t *testing.T) {
	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 1000, 1_000_000, nil, nil, logging.New("test"))
	adapter.lastMs = 1000

	adapter.applyPage([]domain.Trade{{ProductID: "BTC-USD", Timestamp: time.UnixMilli(2000)}}, 2000)
	assert.Equal(t, int64(2000), adapter.lastMs)
}

func TestApplyPageDropsDuplicateBoundaryTrade(t *testing.T) {
	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 1000, 1_000_000, nil, nil, logging.New("test"))
	boundary := domain.Trade{ProductID: "BTC-USD", Side: domain.SideSell, Price: 101, Volume: 2, Timestamp: time.UnixMilli(1500), Exchange: "kraken"}
	adapter.boundaryTrade = boundary
	adapter.haveBoundary = true
	adapter.lastMs = 1500

	next := domain.Trade{ProductID: "BTC-USD", Side: domain.SideBuy, Price: 102, Volume: 1, Timestamp: time.UnixMilli(2000), Exchange: "kraken"}
	adapter.applyPage([]domain.Trade{boundary, next}, 2000)

	require.Len(t, adapter.pending, 1)
	assert.Equal(t, 102.0, adapter.pending[0].Price)
}

func TestApplyPageEmptyRawPageMarksDoneEvenAfterDedup(t *testing.T) {
	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 1000, 1_000_000, nil, nil, logging.New("test"))
	boundary := domain.Trade{ProductID: "BTC-USD", Timestamp: time.UnixMilli(1500)}
	adapter.boundaryTrade = boundary
	adapter.haveBoundary = true

	// A raw page containing only the duplicate boundary trade is not the
	// terminal empty page: more trades may exist beyond it.
	adapter.applyPage([]domain.Trade{boundary}, 1500)
	assert.False(t, adapter.done)
	assert.Empty(t, adapter.pending)

	adapter.applyPage(nil, 1500)
	assert.True(t, adapter.done)
}

func TestOpenMarksDoneWhenWindowEmpty(t *testing.T) {
	adapter := NewRESTAdapter("BTC-USD", "XBTUSD", 1000, 1000, nil, nil, logging.New("test"))
	require.NoError(t, adapter.Open(context.Background()))
	assert.True(t, adapter.IsDone())

	_, err := adapter.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
