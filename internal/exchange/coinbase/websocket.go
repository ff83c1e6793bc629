// Package coinbase implements the Coinbase exchange.Adapter: a websocket
// live feed over the Exchange "matches" channel.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/exchange"
)

const (
	primaryURL  = "wss://ws-feed.exchange.coinbase.com"
	failoverURL = "wss://ws-direct.exchange.coinbase.com"
)

// WebSocketAdapter streams live trades for one or more products over
// Coinbase Exchange's "matches" channel.
type WebSocketAdapter struct {
	productIDs []string
	log        zerolog.Logger

	conn  *websocket.Conn
	state exchange.State

	queue chan domain.Trade
	errc  chan error
	done  chan struct{}
}

// NewWebSocketAdapter builds a live adapter subscribed to productIDs
// (canonical "BASE-QUOTE" form, which is already Coinbase's native
// spelling).
func NewWebSocketAdapter(productIDs []string, log zerolog.Logger) *WebSocketAdapter {
	return &WebSocketAdapter{
		productIDs: productIDs,
		log:        log.With().Str("exchange", "coinbase").Logger(),
		queue:      make(chan domain.Trade, 256),
		errc:       make(chan error, 1),
		done:       make(chan struct{}),
	}
}

type subscribeMessage struct {
	Type     string     `json:"type"`
	Channels []channel  `json:"channels"`
}

type channel struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
}

// Open dials the websocket, falling back to the direct feed URL if the
// primary connection fails, subscribes to the matches channel, then starts
// the background read loop.
func (a *WebSocketAdapter) Open(ctx context.Context) error {
	a.state = exchange.StateConnecting

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, primaryURL, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("primary coinbase endpoint failed, trying failover")
		conn, _, err = dialer.DialContext(ctx, failoverURL, nil)
		if err != nil {
			a.state = exchange.StateDisconnected
			return errs.Connect("coinbase", "", err)
		}
	}
	a.conn = conn
	a.state = exchange.StateSubscribing

	sub := subscribeMessage{
		Type: "subscribe",
		Channels: []channel{
			{Name: "matches", ProductIDs: a.productIDs},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		a.state = exchange.StateDisconnected
		return errs.Connect("coinbase", "", err)
	}

	a.state = exchange.StateStreaming
	a.done = make(chan struct{})
	go a.readLoop()

	return nil
}

type wireMatch struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
}

func (a *WebSocketAdapter) readLoop() {
	defer close(a.done)
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			select {
			case a.errc <- errs.Connect("coinbase", "", err):
			default:
			}
			return
		}

		var msg wireMatch
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "match" && msg.Type != "last_match" {
			continue
		}

		trade, err := a.toDomainTrade(msg)
		if err != nil {
			select {
			case a.errc <- err:
			default:
			}
			continue
		}
		select {
		case a.queue <- trade:
		case <-a.done:
			return
		}
	}
}

func (a *WebSocketAdapter) toDomainTrade(msg wireMatch) (domain.Trade, error) {
	// Coinbase's match message carries the *maker* side; the taker (the
	// side that crossed the spread) is the opposite, matching the original
	// producer's pass-through of the raw "side" field without flipping it.
	side, ok := domain.NormalizeSide(msg.Side)
	if !ok {
		return domain.Trade{}, errs.Protocol("coinbase", msg.ProductID, fmt.Errorf("unrecognized side %q", msg.Side))
	}
	price, err := parseFloat(msg.Price)
	if err != nil {
		return domain.Trade{}, errs.Serialization("coinbase", msg.ProductID, err)
	}
	size, err := parseFloat(msg.Size)
	if err != nil {
		return domain.Trade{}, errs.Serialization("coinbase", msg.ProductID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	if err != nil {
		return domain.Trade{}, errs.Serialization("coinbase", msg.ProductID, err)
	}
	return domain.Trade{
		ProductID: msg.ProductID,
		Side:      side,
		Price:     price,
		Volume:    size,
		Timestamp: ts,
		Exchange:  "coinbase",
	}, nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

// Next returns the next trade, blocking until one arrives, ctx is done, or
// the connection fails.
func (a *WebSocketAdapter) Next(ctx context.Context) (domain.Trade, error) {
	select {
	case <-ctx.Done():
		return domain.Trade{}, ctx.Err()
	case err := <-a.errc:
		return domain.Trade{}, err
	case trade := <-a.queue:
		return trade, nil
	}
}

// IsDone is always false for the live adapter.
func (a *WebSocketAdapter) IsDone() bool { return false }

// Close shuts down the connection. Idempotent.
func (a *WebSocketAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	a.state = exchange.StateClosed
	return a.conn.Close()
}

func (a *WebSocketAdapter) State() exchange.State { return a.state }

// HeartbeatCount is always 0: the matches channel carries no heartbeat
// message, unlike Kraken's v2 trade channel.
func (a *WebSocketAdapter) HeartbeatCount() int64 { return 0 }
