package barbuilder

import "github.com/sawpanic/cryptorun-bars/internal/domain"

// processTime implements the time-bar variant added per spec.md §4.3.4
// (resolving the REDESIGN FLAG around the time aggregation type): a bar
// closes once trade.Timestamp - bar.StartTime >= threshold.Interval
// seconds. Unlike volume bars, a single trade never spans more than one
// time bar boundary — the trade that crosses the boundary simply closes
// the current bar without being split.
func (b *Builder) processTime(trade domain.Trade, threshold Threshold) ([]domain.Bar, error) {
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
		s.BuyTrades++
	}

	elapsed := s.EndTime.Sub(s.StartTime).Seconds()
	if elapsed < threshold.Interval {
		return nil, nil
	}

	if err := validateState(s); err != nil {
		return nil, wrapState(trade.ProductID, err)
	}

	bar := domain.Bar{
		Kind:                  domain.BarKindTime,
		ProductID:             trade.ProductID,
		Open:                  s.Open,
		High:                  s.High,
		Low:                   s.Low,
		Close:                 s.Close,
		Volume:                s.Volume,
		StartTime:             s.StartTime,
		EndTime:               s.EndTime,
		Ticks:                 s.TickCounter,
		CumulativeTradeAmount: s.CumulativeTradeAmount,
	}
	applyDerivedFeatures(&bar, s)

	s.Reset()

	return []domain.Bar{bar}, nil
}
