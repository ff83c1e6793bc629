// Package domain holds the wire-level records shared by every component
// of the ingestion and bar-construction pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Side is the side of a trade as the exchange feed reports it: the taker
// side for Kraken, the maker side for Coinbase match messages (passed
// through unflipped, see the coinbase adapter).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single normalized fill, immutable once produced.
type Trade struct {
	ProductID string
	Side      Side
	Price     float64
	Volume    float64
	Timestamp time.Time
	Exchange  string
}

// Validate checks the invariants spec.md §3 places on a Trade.
func (t Trade) Validate() error {
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("invalid trade side %q", t.Side)
	}
	if t.Price <= 0 {
		return fmt.Errorf("invalid trade price %v", t.Price)
	}
	if t.Volume <= 0 {
		return fmt.Errorf("invalid trade volume %v", t.Volume)
	}
	if t.ProductID == "" {
		return fmt.Errorf("missing product_id")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// tradeWire is the JSON representation on the `trades` topic: timestamps
// are carried as Unix milliseconds, matching the original producer.
type tradeWire struct {
	ProductID string  `json:"product_id"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
	Exchange  string  `json:"exchange"`
}

// MarshalJSON implements json.Marshaler.
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeWire{
		ProductID: t.ProductID,
		Side:      t.Side,
		Price:     t.Price,
		Volume:    t.Volume,
		Timestamp: t.Timestamp.UnixMilli(),
		Exchange:  t.Exchange,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Trade) UnmarshalJSON(data []byte) error {
	var w tradeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.ProductID = w.ProductID
	t.Side = w.Side
	t.Price = w.Price
	t.Volume = w.Volume
	t.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	t.Exchange = w.Exchange
	return nil
}

// NormalizeSide maps exchange-specific single-letter side markers (Kraken's
// REST trade rows use "b"/"s") onto the canonical buy/sell values. Anything
// else is rejected — callers should turn that into a ProtocolError.
func NormalizeSide(raw string) (Side, bool) {
	switch raw {
	case "buy", "b":
		return SideBuy, true
	case "sell", "s":
		return SideSell, true
	default:
		return "", false
	}
}
