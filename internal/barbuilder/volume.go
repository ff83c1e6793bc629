package barbuilder

import "github.com/sawpanic/cryptorun-bars/internal/domain"

// processVolume implements spec.md §4.3.2: a single trade can be split
// across multiple bar boundaries so that every emitted bar's volume is
// exactly threshold.Interval.
func (b *Builder) processVolume(trade domain.Trade, threshold Threshold) ([]domain.Bar, error) {
	s := b.stateFor(trade.ProductID)
	remainingVolume := trade.Volume

	var emitted []domain.Bar

	// A single trade spanning multiple bar boundaries is split across
	// several fragments below, but it is still exactly one observed
	// trade: the tick/run/price-path bookkeeping below must fire once for
	// the whole call, not once per fragment, or Σ emitted Ticks would
	// overcount the true number of input trades (spec.md §8 tick
	// conservation). It's credited to the first bar/residual the trade
	// touches.
	first := true

	for remainingVolume > 0 {
		if s.BeginIfEmpty(trade.Price, trade.Timestamp) {
			if b.ids != nil {
				s.UniqueID = b.ids.Next()
			}
		}

		if first {
			s.PricePath = append(s.PricePath, trade.Price)
			s.RecordRun(trade.Side)
			s.UpdateHighLow(trade.Price)
			s.Close = trade.Price
			s.EndTime = trade.Timestamp
			s.TickCounter++
			if trade.Side == domain.SideBuy {
				s.BuyTrades++
			}
			first = false
		}

		remainingInBar := threshold.Interval - s.Volume

		if remainingVolume >= remainingInBar {
			fillAmount := remainingInBar
			s.Volume = threshold.Interval
			s.CumulativeTradeAmount += trade.Price * fillAmount
			remainingVolume -= remainingInBar

			if err := validateState(s); err != nil {
				return emitted, wrapState(trade.ProductID, err)
			}

			bar := domain.Bar{
				Kind:                  domain.BarKindVolume,
				ProductID:             trade.ProductID,
				Open:                  s.Open,
				High:                  s.High,
				Low:                   s.Low,
				Close:                 s.Close,
				Volume:                s.Volume,
				StartTime:             s.StartTime,
				EndTime:               s.EndTime,
				TickImbalance:         s.CumulativeImbalance,
				Ticks:                 s.TickCounter,
				CumulativeTradeAmount: s.CumulativeTradeAmount,
				UniqueID:              s.UniqueID,
			}
			applyDerivedFeatures(&bar, s)
			emitted = append(emitted, bar)

			s.Reset()
		} else {
			s.Volume += remainingVolume
			s.CumulativeTradeAmount += trade.Price * remainingVolume
			remainingVolume = 0
		}
	}

	return emitted, nil
}
