package barbuilder

import (
	"math"

	"github.com/sawpanic/cryptorun-bars/internal/domain"
)

// featureFunc computes one derived feature from a finished BarState. The
// registry replaces the source's runtime `add_<feature>` attribute lookup
// with a statically typed dispatch table built once at startup.
type featureFunc func(s *domain.BarState) float64

var featureRegistry = map[string]featureFunc{
	"net_buy_ratio":      netBuyRatio,
	"bar_formation_time": barFormationTime,
	"trade_intensity":    tradeIntensity,
	"price_volatility":   priceVolatility,
}

func netBuyRatio(s *domain.BarState) float64 {
	if s.TickCounter == 0 {
		return 0
	}
	return round4(2*(float64(s.BuyTrades)/float64(s.TickCounter)) - 1)
}

func barFormationTime(s *domain.BarState) float64 {
	return round4(s.EndTime.Sub(s.StartTime).Seconds())
}

func tradeIntensity(s *domain.BarState) float64 {
	formation := s.EndTime.Sub(s.StartTime).Seconds()
	if formation <= 0 {
		return 0
	}
	return round4(float64(s.TickCounter) / formation)
}

func priceVolatility(s *domain.BarState) float64 {
	n := len(s.PricePath)
	if n <= 1 {
		return 0
	}
	var mean float64
	for _, p := range s.PricePath {
		mean += p
	}
	mean /= float64(n)

	var variance float64
	for _, p := range s.PricePath {
		d := p - mean
		variance += d * d
	}
	variance /= float64(n)

	return round4(math.Sqrt(variance))
}

// maxRuns scans the run-length encoded TradeSequences (consecutive
// same-side trades are already merged into one Run by RecordRun) and
// returns the largest run Count seen for each side.
func maxRuns(s *domain.BarState) (maxBuy, maxSell int) {
	for _, run := range s.TradeSequences {
		switch run.Side {
		case domain.SideBuy:
			if run.Count > maxBuy {
				maxBuy = run.Count
			}
		case domain.SideSell:
			if run.Count > maxSell {
				maxSell = run.Count
			}
		}
	}
	return maxBuy, maxSell
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// applyDerivedFeatures fills in every registered feature plus the two
// run-length features onto a Bar built from a finished BarState.
func applyDerivedFeatures(bar *domain.Bar, s *domain.BarState) {
	bar.NetBuyRatio = featureRegistry["net_buy_ratio"](s)
	bar.BarFormationTime = featureRegistry["bar_formation_time"](s)
	bar.TradeIntensity = featureRegistry["trade_intensity"](s)
	bar.PriceVolatility = featureRegistry["price_volatility"](s)
	bar.MaxBuyRun, bar.MaxSellRun = maxRuns(s)
}
