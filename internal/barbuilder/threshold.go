// Package barbuilder implements the stateful, keyed streaming operator that
// turns a trade stream into tick-imbalance, volume, or time bars
// (spec.md §4.3). State is held strictly per product_id and is never shared
// across keys (spec.md §5).
package barbuilder

import (
	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/errs"
	"github.com/sawpanic/cryptorun-bars/internal/snowflake"
)

// Policy selects which threshold test closes a bar.
type Policy string

const (
	PolicyTickImbalance Policy = "tick imbalance"
	PolicyVolume        Policy = "volume"
	PolicyTime          Policy = "time"
)

// Threshold is the per-product configuration driving one builder key.
type Threshold struct {
	Policy   Policy
	Interval float64 // imbalance ticks, volume units, or seconds, per Policy
}

// Builder owns all in-flight BarState keyed by product_id for one threshold
// policy. It is not safe for concurrent use across goroutines touching the
// same product — callers must guarantee single-threaded access per key,
// e.g. by running one Builder per partition worker (spec.md §5).
type Builder struct {
	thresholds map[string]Threshold
	states     map[string]*domain.BarState
	ids        *snowflake.Generator
}

// New creates a Builder for the given per-product thresholds. ids may be
// nil unless any threshold uses PolicyVolume.
func New(thresholds map[string]Threshold, ids *snowflake.Generator) *Builder {
	return &Builder{
		thresholds: thresholds,
		states:     make(map[string]*domain.BarState),
		ids:        ids,
	}
}

func (b *Builder) stateFor(productID string) *domain.BarState {
	s, ok := b.states[productID]
	if !ok {
		s = &domain.BarState{ProductID: productID}
		b.states[productID] = s
	}
	return s
}

// Process feeds one trade into the builder for its product_id and returns
// zero or more bars emitted as a result (a single trade can close multiple
// volume bars, spec.md §4.3.2). The returned slice is nil when no bar
// closed.
func (b *Builder) Process(trade domain.Trade) ([]domain.Bar, error) {
	threshold, ok := b.thresholds[trade.ProductID]
	if !ok {
		// No configured aggregation for this product: drop silently, the
		// producer side is responsible for only forwarding configured
		// products onto a given builder instance.
		return nil, nil
	}

	switch threshold.Policy {
	case PolicyTickImbalance:
		return b.processTickImbalance(trade, threshold)
	case PolicyVolume:
		return b.processVolume(trade, threshold)
	case PolicyTime:
		return b.processTime(trade, threshold)
	default:
		return nil, errs.State(trade.ProductID, errStr("unknown policy "+string(threshold.Policy)))
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func errStr(s string) error { return errString(s) }

// validateState enforces the BarState OHLC invariant from spec.md §3 before
// a bar is finalized; a violation indicates a bug in the builder, not bad
// input, so it is a fatal StateError.
func validateState(s *domain.BarState) error {
	if s.Low > s.Open || s.Low > s.High || s.Low > s.Close {
		return errStr("low exceeds open/high/close")
	}
	if s.High < s.Open || s.High < s.Close {
		return errStr("high below open/close")
	}
	if abs(s.CumulativeImbalance) > s.TickCounter {
		return errStr("imbalance magnitude exceeds tick counter")
	}
	if s.StartTime.After(s.EndTime) {
		return errStr("start_time after end_time")
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func wrapState(productID string, cause error) error {
	return errs.State(productID, cause)
}

