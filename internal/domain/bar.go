package domain

import (
	"encoding/json"
	"time"
)

// BarKind identifies which threshold policy produced a Bar.
type BarKind string

const (
	BarKindTickImbalance BarKind = "tick_imbalance"
	BarKindVolume        BarKind = "volume"
	BarKindTime          BarKind = "time"
)

// Run is one entry of the run-length encoding of consecutive same-side
// trades within a bar, used to compute MaxBuyRun / MaxSellRun.
type Run struct {
	Side  Side
	Count int
}

// BarState is the per-product mutable accumulator the bar builder owns for
// the lifetime of an in-flight bar. It is never shared across products.
type BarState struct {
	ProductID string

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	CumulativeTradeAmount float64

	StartTime time.Time
	EndTime   time.Time

	TickCounter         int
	CumulativeImbalance int
	BuyTrades           int

	PricePath      []float64
	TradeSequences []Run

	UniqueID int64

	initialized bool
}

// IsEmpty reports whether the state is in its sentinel, not-yet-initialized
// configuration (spec.md §3: tick_counter == 0 implies sentinel numeric
// fields).
func (s *BarState) IsEmpty() bool {
	return !s.initialized
}

// Reset restores the state to the sentinel "empty" configuration, ready to
// absorb the next trade for this product.
func (s *BarState) Reset() {
	productID := s.ProductID
	*s = BarState{ProductID: productID}
}

// BeginIfEmpty seeds OHLC and timing fields from the first trade of a new
// bar, a no-op if the state already holds an in-flight bar. Returns true if
// it performed the seeding.
func (s *BarState) BeginIfEmpty(price float64, ts time.Time) bool {
	if s.initialized {
		return false
	}
	s.Open = price
	s.High = price
	s.Low = price
	s.Close = price
	s.StartTime = ts
	s.EndTime = ts
	s.initialized = true
	return true
}

// UpdateHighLow widens High/Low to include price.
func (s *BarState) UpdateHighLow(price float64) {
	if price > s.High {
		s.High = price
	}
	if price < s.Low {
		s.Low = price
	}
}

// RecordRun appends side to the run-length encoding, extending the last run
// if it shares the side, or starting a new one.
func (s *BarState) RecordRun(side Side) {
	n := len(s.TradeSequences)
	if n > 0 && s.TradeSequences[n-1].Side == side {
		s.TradeSequences[n-1].Count++
		return
	}
	s.TradeSequences = append(s.TradeSequences, Run{Side: side, Count: 1})
}

// Bar is an emitted, immutable aggregated record.
type Bar struct {
	Kind      BarKind
	ProductID string

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	StartTime time.Time
	EndTime   time.Time

	TickImbalance           int
	Ticks                   int
	CumulativeTradeAmount   float64

	NetBuyRatio       float64
	BarFormationTime  float64
	TradeIntensity    float64
	MaxBuyRun         int
	MaxSellRun        int
	PriceVolatility   float64

	// UniqueID is populated only for volume bars (spec.md §3).
	UniqueID int64
}

type barWire struct {
	Kind                  BarKind `json:"bar_type"`
	ProductID             string  `json:"product_id"`
	Open                  float64 `json:"open"`
	High                  float64 `json:"high"`
	Low                   float64 `json:"low"`
	Close                 float64 `json:"close"`
	Volume                float64 `json:"volume"`
	StartTime             int64   `json:"start_time"`
	EndTime               int64   `json:"end_time"`
	TickImbalance         int     `json:"tick_imbalance"`
	Ticks                 int     `json:"ticks"`
	CumulativeTradeAmount float64 `json:"cumulative_trade_amount"`
	NetBuyRatio           float64 `json:"net_buy_ratio"`
	BarFormationTime      float64 `json:"bar_formation_time"`
	TradeIntensity        float64 `json:"trade_intensity"`
	MaxBuyRun             int     `json:"max_buy_run"`
	MaxSellRun            int     `json:"max_sell_run"`
	PriceVolatility       float64 `json:"price_volatility"`
	UniqueID              int64   `json:"unique_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(barWire{
		Kind:                  b.Kind,
		ProductID:             b.ProductID,
		Open:                  b.Open,
		High:                  b.High,
		Low:                   b.Low,
		Close:                 b.Close,
		Volume:                b.Volume,
		StartTime:             b.StartTime.UnixMilli(),
		EndTime:               b.EndTime.UnixMilli(),
		TickImbalance:         b.TickImbalance,
		Ticks:                 b.Ticks,
		CumulativeTradeAmount: b.CumulativeTradeAmount,
		NetBuyRatio:           b.NetBuyRatio,
		BarFormationTime:      b.BarFormationTime,
		TradeIntensity:        b.TradeIntensity,
		MaxBuyRun:             b.MaxBuyRun,
		MaxSellRun:            b.MaxSellRun,
		PriceVolatility:       b.PriceVolatility,
		UniqueID:              b.UniqueID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var w barWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Kind = w.Kind
	b.ProductID = w.ProductID
	b.Open = w.Open
	b.High = w.High
	b.Low = w.Low
	b.Close = w.Close
	b.Volume = w.Volume
	b.StartTime = time.UnixMilli(w.StartTime).UTC()
	b.EndTime = time.UnixMilli(w.EndTime).UTC()
	b.TickImbalance = w.TickImbalance
	b.Ticks = w.Ticks
	b.CumulativeTradeAmount = w.CumulativeTradeAmount
	b.NetBuyRatio = w.NetBuyRatio
	b.BarFormationTime = w.BarFormationTime
	b.TradeIntensity = w.TradeIntensity
	b.MaxBuyRun = w.MaxBuyRun
	b.MaxSellRun = w.MaxSellRun
	b.PriceVolatility = w.PriceVolatility
	b.UniqueID = w.UniqueID
	return nil
}
