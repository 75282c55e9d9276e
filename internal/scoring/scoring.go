// Package scoring turns indicator values into pass/fail criteria, a 0-4
// score and the scan ordering. Everything here is a pure function.
package scoring

import (
	"sort"

	"shadowbeta/internal/model"
)

// Criterion thresholds.
const (
	MomentumRSI         = 50.0
	MomentumStochastic  = 20.0
	MinAverageVolume    = 1_000_000.0
	StrongRelVolume     = 1.5
	OversoldRSI         = 30.0
	OversoldStochastic  = 20.0
	BreakoutRelVolume   = 2.0
	QuickOversoldRSI    = 35.0
	QuickStrongGainPct  = 2.0
	LiquidAverageVolume = 100_000.0
	SanePriceMin        = 5.0
	SanePriceMax        = 500.0
	MaxScore            = 4
)

// Evaluate computes the criteria for one stock.
func Evaluate(price, averageVolume, relativeVolume float64, ind model.IndicatorSnapshot) model.Passes {
	return model.Passes{
		Trend: ind.FiftyMA > ind.TwoHundredMA &&
			price > ind.FiftyMA &&
			price > ind.TwoHundredMA,
		Momentum: ind.RSI > MomentumRSI &&
			ind.MACD > 0 &&
			ind.Stochastic > MomentumStochastic,
		Volume: averageVolume > MinAverageVolume &&
			relativeVolume > StrongRelVolume,
		PriceAction: ind.BollingerLower < price &&
			price < ind.BollingerUpper &&
			price > ind.FiftyMA,
		Oversold: ind.RSI < OversoldRSI && ind.Stochastic < OversoldStochastic,
		Breakout: price > ind.BollingerUpper && relativeVolume > BreakoutRelVolume,
	}
}

// Apply fills Passes and Score on a stock from its own fields.
func Apply(s *model.CandidateStock) {
	s.Passes = Evaluate(s.CurrentPrice, s.AverageVolume, s.RelativeVolume, s.Indicators)
	s.Score = s.Passes.Score()
}

// IsLiquid reports whether average volume clears the tier-1 floor.
func IsLiquid(averageVolume float64) bool {
	return averageVolume > LiquidAverageVolume
}

// IsReasonablePrice reports whether price is outside penny and ultra-high
// territory.
func IsReasonablePrice(price float64) bool {
	return price >= SanePriceMin && price <= SanePriceMax
}

// QuickScore is the tier-1 prioritization heuristic: one point each for
// oversold RSI, strong relative volume, a strong daily gain and passing the
// liquidity/price sanity checks.
func QuickScore(q model.QuickStock) int {
	score := 0
	if q.RSI < QuickOversoldRSI {
		score++
	}
	if q.RelativeVolume > StrongRelVolume {
		score++
	}
	if q.PriceChangePercent > QuickStrongGainPct {
		score++
	}
	if q.IsLiquid && q.ReasonablePrice {
		score++
	}
	return score
}

// Less orders stocks by score descending, then relative volume descending,
// then price ascending.
func Less(a, b model.CandidateStock) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.RelativeVolume != b.RelativeVolume {
		return a.RelativeVolume > b.RelativeVolume
	}
	return a.CurrentPrice < b.CurrentPrice
}

// SortAndRank sorts stocks in place, truncates to maxResults (when > 0) and
// assigns dense ranks starting at 1. Ties on all keys keep ticker order so
// results are reproducible.
func SortAndRank(stocks []model.CandidateStock, maxResults int) []model.CandidateStock {
	sort.SliceStable(stocks, func(i, j int) bool {
		if Less(stocks[i], stocks[j]) {
			return true
		}
		if Less(stocks[j], stocks[i]) {
			return false
		}
		return stocks[i].Ticker < stocks[j].Ticker
	})
	if maxResults > 0 && len(stocks) > maxResults {
		stocks = stocks[:maxResults]
	}
	for i := range stocks {
		stocks[i].Rank = i + 1
	}
	return stocks
}

// SortQuick orders tier-1 rows by quick score descending, keeping input
// order among equal scores.
func SortQuick(rows []model.QuickStock) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].QuickScore > rows[j].QuickScore
	})
}

// Distribution counts stocks per score. Every score 0..4 is present.
func Distribution(stocks []model.CandidateStock) map[int]int {
	dist := make(map[int]int, MaxScore+1)
	for s := 0; s <= MaxScore; s++ {
		dist[s] = 0
	}
	for _, st := range stocks {
		dist[st.Score]++
	}
	return dist
}
