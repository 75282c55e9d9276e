package model

import "time"

// Bar is one daily OHLCV bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceSeries is a symbol's bar history, ascending by time.
// It is never mutated after the provider returns it.
type PriceSeries struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"` // company name when the provider knows it
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s PriceSeries) Len() int { return len(s.Bars) }

// Last returns the most recent bar. Callers must check Len first.
func (s PriceSeries) Last() Bar { return s.Bars[len(s.Bars)-1] }

// Closes returns the close prices in time order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices in time order.
func (s PriceSeries) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices in time order.
func (s PriceSeries) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// Volumes returns the bar volumes in time order.
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Window returns a view of the first n bars (n clamped to the series length).
// The backtest uses it to evaluate rules on the data available at bar n-1.
func (s PriceSeries) Window(n int) PriceSeries {
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	if n < 0 {
		n = 0
	}
	return PriceSeries{Symbol: s.Symbol, Name: s.Name, Bars: s.Bars[:n]}
}
