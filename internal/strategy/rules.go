// Package strategy evaluates user-defined entry rules against daily bars and
// runs the polling loop that opens and closes positions.
package strategy

import (
	"shadowbeta/internal/indicator"
	"shadowbeta/internal/model"
)

// Rule thresholds.
const (
	OversoldRSI     = 35.0
	StrongRelVolume = 1.5
)

// Inputs are the values the entry rules look at for one symbol.
type Inputs struct {
	Price          float64
	RSI            float64
	FiftyMA        float64
	TwoHundredMA   float64
	RelativeVolume float64
}

// InputsFrom computes rule inputs from a daily series. The series must not
// be empty.
func InputsFrom(s model.PriceSeries) Inputs {
	closes := s.Closes()
	fifty, twoHundred := indicator.MovingAverages(closes)
	return Inputs{
		Price:          s.Last().Close,
		RSI:            indicator.RSIOf(closes, indicator.RSIWindow),
		FiftyMA:        fifty,
		TwoHundredMA:   twoHundred,
		RelativeVolume: indicator.RelativeVolume(s.Volumes()),
	}
}

// EvalRule reports whether a single rule holds. Unknown rules never hold.
func EvalRule(r model.Rule, in Inputs) bool {
	switch r {
	case model.RuleRSIOversold:
		return in.RSI <= OversoldRSI
	case model.RuleMA50AboveMA200:
		return in.FiftyMA > in.TwoHundredMA
	case model.RulePriceAboveMA50:
		return in.Price > in.FiftyMA
	case model.RuleRelVolumeStrong:
		return in.RelativeVolume >= StrongRelVolume
	default:
		return false
	}
}

// Evaluate ANDs every enabled rule. An empty rule set matches.
func Evaluate(rules model.RuleSet, in Inputs) bool {
	for _, r := range rules {
		if !EvalRule(r, in) {
			return false
		}
	}
	return true
}
