package barbuilder

import "github.com/sawpanic/cryptorun-bars/internal/domain"

// processTickImbalance implements spec.md §4.3.1: accumulate a signed
// cumulative imbalance (+1 buy, -1 sell) and close the bar once its
// magnitude reaches threshold.Interval.
func (b *Builder) processTickImbalance(trade domain.Trade, threshold Threshold) ([]domain.Bar, error) {
	s := b.stateFor(trade.ProductID)

	s.BeginIfEmpty(trade.Price, trade.Timestamp)
	s.PricePath = append(s.PricePath, trade.Price)
	s.RecordRun(trade.Side)
	s.UpdateHighLow(trade.Price)
	s.Close = trade.Price
	s.EndTime = trade.Timestamp
	s.Volume += trade.Volume
	s.CumulativeTradeAmount += trade.Price * trade.Volume
	s.TickCounter++

	if trade.Side == domain.SideBuy {
		s.CumulativeImbalance++
		s.BuyTrades++
	} else {
		s.CumulativeImbalance--
	}

	threshInterval := int(threshold.Interval)
	if abs(s.CumulativeImbalance) < threshInterval {
		return nil, nil
	}

	if err := validateState(s); err != nil {
		return nil, wrapState(trade.ProductID, err)
	}

	bar := domain.Bar{
		Kind:                  domain.BarKindTickImbalance,
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
	}
	applyDerivedFeatures(&bar, s)

	s.Reset()

	return []domain.Bar{bar}, nil
}
