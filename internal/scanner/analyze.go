package scanner

import (
	"fmt"

	"shadowbeta/internal/indicator"
	"shadowbeta/internal/model"
	"shadowbeta/internal/scoring"
)

// quickFromSeries builds the tier-1 view from a few days of bars.
func quickFromSeries(ticker string, s model.PriceSeries) (model.QuickStock, error) {
	if s.Len() < 2 {
		return model.QuickStock{}, fmt.Errorf("%w: %s has %d bars, need 2", model.ErrDataUnavailable, ticker, s.Len())
	}
	closes := s.Closes()
	volumes := s.Volumes()
	price := closes[len(closes)-1]
	prev := closes[len(closes)-2]

	q := model.QuickStock{
		Ticker:         ticker,
		CurrentPrice:   price,
		PriceChange:    price - prev,
		AverageVolume:  indicator.MeanOf(volumes),
		RelativeVolume: indicator.RelativeVolume(volumes),
		RSI:            indicator.RSIOf(closes, indicator.RSIWindow),
	}
	if prev > 0 {
		q.PriceChangePercent = q.PriceChange / prev * 100
	}
	q.IsLiquid = scoring.IsLiquid(q.AverageVolume)
	q.ReasonablePrice = scoring.IsReasonablePrice(price)
	q.QuickScore = scoring.QuickScore(q)
	return q, nil
}

// candidateFromSeries runs the full indicator set and scoring.
func candidateFromSeries(ticker string, s model.PriceSeries) (model.CandidateStock, error) {
	if s.Len() < 2 {
		return model.CandidateStock{}, fmt.Errorf("%w: %s has %d bars, need 2", model.ErrDataUnavailable, ticker, s.Len())
	}
	closes := s.Closes()
	volumes := s.Volumes()
	price := closes[len(closes)-1]
	prev := closes[len(closes)-2]

	c := model.CandidateStock{
		Ticker:         ticker,
		CompanyName:    s.Name,
		CurrentPrice:   price,
		PriceChange:    price - prev,
		AverageVolume:  indicator.MeanOf(volumes),
		RelativeVolume: indicator.RelativeVolume(volumes),
		Indicators:     indicator.Compute(s),
	}
	if c.CompanyName == "" {
		c.CompanyName = ticker
	}
	if prev > 0 {
		c.PriceChangePercent = c.PriceChange / prev * 100
	}
	scoring.Apply(&c)
	return c, nil
}

// passesTier1 applies the liquidity/sanity checks and the request's volume
// and price bounds.
func passesTier1(q model.QuickStock, req model.ScanRequest) bool {
	return q.IsLiquid && q.ReasonablePrice && passesBounds(q.RelativeVolume, q.CurrentPrice, req)
}

func passesBounds(relVol, price float64, req model.ScanRequest) bool {
	return relVol >= req.MinVolumeMultiplier && price >= req.MinPrice && price <= req.MaxPrice
}
