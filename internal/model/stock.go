package model

// IndicatorSnapshot is the full indicator set computed from one PriceSeries.
type IndicatorSnapshot struct {
	RSI            float64 `json:"rsi"`
	MACD           float64 `json:"macd"`
	FiftyMA        float64 `json:"fiftyMA"`
	TwoHundredMA   float64 `json:"twoHundredMA"`
	BollingerUpper float64 `json:"bollingerUpper"`
	BollingerLower float64 `json:"bollingerLower"`
	Stochastic     float64 `json:"stochastic"`
	WilliamsR      float64 `json:"williamsR"`
}

// Passes holds the per-criterion results. Oversold and Breakout are
// informational and never counted in the score.
type Passes struct {
	Trend       bool `json:"trend"`
	Momentum    bool `json:"momentum"`
	Volume      bool `json:"volume"`
	PriceAction bool `json:"priceAction"`
	Oversold    bool `json:"oversold"`
	Breakout    bool `json:"breakout"`
}

// Score counts the scored criteria.
func (p Passes) Score() int {
	n := 0
	for _, ok := range []bool{p.Trend, p.Momentum, p.Volume, p.PriceAction} {
		if ok {
			n++
		}
	}
	return n
}

// CandidateStock is a fully analyzed ticker.
type CandidateStock struct {
	Ticker             string            `json:"ticker"`
	CompanyName        string            `json:"companyName"`
	CurrentPrice       float64           `json:"currentPrice"`
	PriceChange        float64           `json:"priceChange"`
	PriceChangePercent float64           `json:"priceChangePercent"`
	AverageVolume      float64           `json:"averageVolume"`
	RelativeVolume     float64           `json:"relativeVolume"`
	Indicators         IndicatorSnapshot `json:"indicators"`
	Passes             Passes            `json:"passes"`
	Score              int               `json:"score"`
	Rank               int               `json:"rank"`
}

// QuickStock is the tier-1 lightweight view of a ticker built from a few
// days of bars.
type QuickStock struct {
	Ticker             string  `json:"ticker"`
	CurrentPrice       float64 `json:"currentPrice"`
	PriceChange        float64 `json:"priceChange"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	AverageVolume      float64 `json:"averageVolume"`
	RelativeVolume     float64 `json:"relativeVolume"`
	RSI                float64 `json:"rsi"`
	IsLiquid           bool    `json:"isLiquid"`
	ReasonablePrice    bool    `json:"reasonablePrice"`
	QuickScore         int     `json:"quickScore"`
	Rank               int     `json:"rank,omitempty"`
}
