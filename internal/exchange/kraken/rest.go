package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/exchange"
	"github.com/sawpanic/cryptorun-bars/internal/httpcache"
	"github.com/sawpanic/cryptorun-bars/internal/netutil/breaker"
	"github.com/sawpanic/cryptorun-bars/internal/netutil/ratelimit"
)

// restBaseURL is a var (not const) so tests can point it at an
// httptest.Server instead of the real Kraken API.
var restBaseURL = "https://api.kraken.com/0/public/Trades"

// RESTAdapter backfills historical trades for one product from Kraken's
// public Trades endpoint, paginating by a since-cursor in nanoseconds
// (spec.md §4.1).
type RESTAdapter struct {
	productID string
	krakenPair string
	fromMs    int64
	toMs      int64
	lastMs    int64

	client  *http.Client
	cache   *httpcache.Cache
	limiter *ratelimit.Limiter
	brk     *breaker.Breaker
	log     zerolog.Logger

	// boundaryTrade is the last trade of the most recently applied page,
	// used to drop its duplicate when Kraken's next page starts with it
	// again (inclusive pagination, spec.md §4.1 point 3).
	boundaryTrade domain.Trade
	haveBoundary  bool

	pending []domain.Trade
	done    bool
}

// NewRESTAdapter builds a historical backfill adapter for productID
// (canonical form, e.g. "BTC-USD") translated to Kraken's REST pair
// spelling (krakenPair, e.g. "XBTUSD"), covering [fromMs, toMs).
func NewRESTAdapter(productID, krakenPair string, fromMs, toMs int64, cache *httpcache.Cache, limiter *ratelimit.Limiter, log zerolog.Logger) *RESTAdapter {
	return &RESTAdapter{
		productID:  productID,
		krakenPair: krakenPair,
		fromMs:     fromMs,
		toMs:       toMs,
		lastMs:     fromMs,
		client:     &http.Client{Timeout: 15 * time.Second},
		cache:      cache,
		limiter:    limiter,
		log:        log.With().Str("exchange", "kraken").Str("product_id", productID).Logger(),
	}
}

// Open validates the backfill window; Kraken's REST API needs no connection
// handshake.
func (a *RESTAdapter) Open(ctx context.Context) error {
	a.brk = breaker.New("kraken-rest-"+a.productID, nil)
	if a.fromMs >= a.toMs {
		a.done = true
	}
	return nil
}

// Next returns the next trade from the current page, fetching a new page
// from the REST API (or the on-disk cache) when the current page is
// exhausted.
func (a *RESTAdapter) Next(ctx context.Context) (domain.Trade, error) {
	for len(a.pending) == 0 {
		if a.IsDone() {
			return domain.Trade{}, io.EOF
		}
		if err := a.fetchPage(ctx); err != nil {
			return domain.Trade{}, err
		}
	}
	trade := a.pending[0]
	a.pending = a.pending[1:]
	return trade, nil
}

func (a *RESTAdapter) requestURL() string {
	q := url.Values{}
	q.Set("pair", a.krakenPair)
	q.Set("since", strconv.FormatInt(a.lastMs*1_000_000, 10))
	return restBaseURL + "?" + q.Encode()
}

func (a *RESTAdapter) fetchPage(ctx context.Context) error {
	reqURL := a.requestURL()

	if a.cache != nil {
		if entry, ok, err := a.cache.Read(reqURL); err == nil && ok {
			a.log.Debug().Str("url", reqURL).Msg("cache hit")
			a.applyPage(entry.Trades, entry.LastTradeMs)
			return nil
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, "kraken"); err != nil {
			return err
		}
	}

	result, err := a.brk.Execute(func() (any, error) {
		return a.doFetch(ctx, reqURL)
	})
	if err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) {
			return typed
		}
		return errs.Connect("kraken", a.productID, err)
	}
	fr := result.(fetchResult)

	nextMs := a.lastMs
	switch {
	case fr.lastNs > 0:
		nextMs = fr.lastNs / 1_000_000
	case len(fr.trades) > 0:
		nextMs = fr.trades[len(fr.trades)-1].Timestamp.UnixMilli()
	}

	if a.cache != nil {
		_ = a.cache.Write(reqURL, httpcache.Entry{Trades: fr.trades, LastTradeMs: nextMs})
	}

	a.applyPage(fr.trades, nextMs)
	return nil
}

// applyPage folds one raw page of trades (as returned by the API or read
// back from cache) into the pending queue: it drops a leading trade that
// duplicates the previous page's boundary trade (Kraken's pagination is
// inclusive of the since-cursor, spec.md §4.1 point 3), then advances the
// cursor from nextMs, bumping it by one millisecond if the page made no
// forward progress at all so the backfill can't loop forever.
func (a *RESTAdapter) applyPage(trades []domain.Trade, nextMs int64) {
	if len(trades) == 0 {
		a.done = true
		return
	}

	boundary := trades[len(trades)-1]

	deduped := trades
	if a.haveBoundary && tradesEqual(trades[0], a.boundaryTrade) {
		deduped = trades[1:]
	}

	a.boundaryTrade = boundary
	a.haveBoundary = true

	if nextMs == a.lastMs {
		a.lastMs = nextMs + 1
	} else {
		a.lastMs = nextMs
	}

	a.pending = append(a.pending, deduped...)
}

// tradesEqual compares two trades by value; domain.Trade carries no raw
// exchange trade-id, so boundary-dedup relies on every other field
// matching exactly.
func tradesEqual(x, y domain.Trade) bool {
	return x.ProductID == y.ProductID &&
		x.Side == y.Side &&
		x.Price == y.Price &&
		x.Volume == y.Volume &&
		x.Exchange == y.Exchange &&
		x.Timestamp.Equal(y.Timestamp)
}

type krakenTradesResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// fetchResult is doFetch's return value: the decoded trades plus Kraken's
// own "last" pagination cursor (nanoseconds since epoch), carried through
// the breaker.Execute closure as a single any.
type fetchResult struct {
	trades []domain.Trade
	lastNs int64
}

const rateLimitErrSubstr = "too many requests"

func (a *RESTAdapter) doFetch(ctx context.Context, reqURL string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fetchResult{}, fmt.Errorf("kraken rest: unexpected status %d", resp.StatusCode)
	}

	var parsed krakenTradesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fetchResult{}, errs.Serialization("kraken", a.productID, err)
	}
	for _, e := range parsed.Error {
		if e == "" {
			continue
		}
		if strings.Contains(strings.ToLower(e), rateLimitErrSubstr) {
			return fetchResult{}, errs.RateLimit("kraken", fmt.Errorf("kraken rest error: %s", e))
		}
		return fetchResult{}, fmt.Errorf("kraken rest error: %s", e)
	}

	var lastNs int64
	if raw, ok := parsed.Result["last"]; ok {
		var lastStr string
		if err := json.Unmarshal(raw, &lastStr); err == nil {
			lastNs, _ = strconv.ParseInt(lastStr, 10, 64)
		}
	}

	raw, ok := parsed.Result[a.krakenPair]
	if !ok {
		return fetchResult{lastNs: lastNs}, nil
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fetchResult{}, errs.Serialization("kraken", a.productID, err)
	}

	trades := make([]domain.Trade, 0, len(rows))
	for _, row := range rows {
		trade, err := decodeRow(a.productID, row)
		if err != nil {
			return fetchResult{}, err
		}
		if trade.Timestamp.UnixMilli() >= a.toMs {
			a.done = true
			break
		}
		trades = append(trades, trade)
	}
	return fetchResult{trades: trades, lastNs: lastNs}, nil
}

// decodeRow parses one Kraken Trades row: [price, volume, time, side,
// order_type, misc, trade_id].
func decodeRow(productID string, row []json.RawMessage) (domain.Trade, error) {
	if len(row) < 4 {
		return domain.Trade{}, errs.Protocol("kraken", productID, fmt.Errorf("short trade row: %d fields", len(row)))
	}
	var priceStr, sideStr string
	var volumeStr string
	var ts float64

	if err := json.Unmarshal(row[0], &priceStr); err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}
	if err := json.Unmarshal(row[1], &volumeStr); err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}
	if err := json.Unmarshal(row[2], &ts); err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}
	if err := json.Unmarshal(row[3], &sideStr); err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}
	volume, err := strconv.ParseFloat(volumeStr, 64)
	if err != nil {
		return domain.Trade{}, errs.Serialization("kraken", productID, err)
	}
	side, ok := domain.NormalizeSide(sideStr)
	if !ok {
		return domain.Trade{}, errs.Protocol("kraken", productID, fmt.Errorf("unrecognized side %q", sideStr))
	}

	return domain.Trade{
		ProductID: productID,
		Side:      side,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(int64(ts * 1000)).UTC(),
		Exchange:  "kraken",
	}, nil
}

// IsDone reports whether the backfill window has been fully consumed.
func (a *RESTAdapter) IsDone() bool {
	return a.done && len(a.pending) == 0
}

// Close is a no-op for the REST adapter; the http.Client has no persistent
// connection to release beyond its idle pool.
func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) State() exchange.State {
	if a.IsDone() {
		return exchange.StateClosed
	}
	return exchange.StateStreaming
}

// HeartbeatCount is always 0: the historical REST backfill has no
// heartbeat/keepalive concept.
func (a *RESTAdapter) HeartbeatCount() int64 { return 0 }
