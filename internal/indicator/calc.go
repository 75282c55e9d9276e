package indicator

import (
	"math"

	"shadowbeta/internal/model"
)

// Default windows used by Compute.
const (
	RSIWindow        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9
	BollingerWindow  = 20
	BollingerStdDevs = 2.0
	StochWindow      = 14
	ShortMAWindow    = 50
	LongMAWindow     = 200
)

// Neutral fallbacks returned when a series cannot fill the window.
const (
	neutralRSI        = 50.0
	neutralStochastic = 50.0
	neutralWilliamsR  = -50.0
)

// RSIOf returns the Wilder RSI of closes, or 50 when fewer than
// window+1 closes are available.
func RSIOf(closes []float64, window int) float64 {
	if window <= 0 || len(closes) < window+1 {
		return neutralRSI
	}
	return Feed(NewRSI(window), closes).Value()
}

// MACD returns the MACD histogram: the fast/slow EMA difference minus its
// own signal EMA. It is 0 until the signal line has been seeded
// (slow+signal-1 closes).
func MACD(closes []float64, fast, slow, signal int) float64 {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(closes) < slow+signal-1 {
		return 0
	}
	fastEMA, slowEMA, signalEMA := NewEMA(fast), NewEMA(slow), NewEMA(signal)
	var line float64
	for _, c := range closes {
		fastEMA.Update(c)
		slowEMA.Update(c)
		if !slowEMA.Ready() || !fastEMA.Ready() {
			continue
		}
		line = fastEMA.Value() - slowEMA.Value()
		signalEMA.Update(line)
	}
	if !signalEMA.Ready() {
		return 0
	}
	return line - signalEMA.Value()
}

// BollingerBands returns the upper and lower band over the trailing window
// using the sample standard deviation. When the window cannot be filled
// both bounds equal the last close (0 for an empty series).
func BollingerBands(closes []float64, window int, stdDevs float64) (upper, lower float64) {
	n := len(closes)
	if n == 0 {
		return 0, 0
	}
	last := closes[n-1]
	if window < 2 || n < window {
		return last, last
	}
	tail := closes[n-window:]
	mean := meanOf(tail)
	var ss float64
	for _, c := range tail {
		d := c - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(window-1))
	return mean + stdDevs*sd, mean - stdDevs*sd
}

// StochasticK returns %K over the trailing window, or 50 when the window
// cannot be filled or the high/low range is zero.
func StochasticK(high, low, close []float64, window int) float64 {
	hh, ll, c, ok := rangeOf(high, low, close, window)
	if !ok {
		return neutralStochastic
	}
	return 100 * (c - ll) / (hh - ll)
}

// WilliamsR returns %R over the trailing window, or -50 when the window
// cannot be filled or the high/low range is zero.
func WilliamsR(high, low, close []float64, window int) float64 {
	hh, ll, c, ok := rangeOf(high, low, close, window)
	if !ok {
		return neutralWilliamsR
	}
	return -100 * (hh - c) / (hh - ll)
}

// MovingAverages returns the 50- and 200-sample simple means, each falling
// back to the mean of the whole series when it is shorter than the window.
func MovingAverages(closes []float64) (fifty, twoHundred float64) {
	return trailingMean(closes, ShortMAWindow), trailingMean(closes, LongMAWindow)
}

// RelativeVolume is the last volume divided by the mean volume of the
// series. It is 1 when the mean is zero or the series is empty.
func RelativeVolume(volumes []float64) float64 {
	if len(volumes) == 0 {
		return 1.0
	}
	avg := meanOf(volumes)
	if avg <= 0 {
		return 1.0
	}
	return volumes[len(volumes)-1] / avg
}

// Compute builds the full snapshot for a series.
func Compute(s model.PriceSeries) model.IndicatorSnapshot {
	closes := s.Closes()
	highs, lows := s.Highs(), s.Lows()
	upper, lower := BollingerBands(closes, BollingerWindow, BollingerStdDevs)
	fifty, twoHundred := MovingAverages(closes)
	return model.IndicatorSnapshot{
		RSI:            RSIOf(closes, RSIWindow),
		MACD:           MACD(closes, MACDFast, MACDSlow, MACDSignal),
		FiftyMA:        fifty,
		TwoHundredMA:   twoHundred,
		BollingerUpper: upper,
		BollingerLower: lower,
		Stochastic:     StochasticK(highs, lows, closes, StochWindow),
		WilliamsR:      WilliamsR(highs, lows, closes, StochWindow),
	}
}

// MeanOf returns the arithmetic mean, 0 for an empty slice.
func MeanOf(xs []float64) float64 { return meanOf(xs) }

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func trailingMean(xs []float64, window int) float64 {
	if len(xs) < window {
		return meanOf(xs)
	}
	return Feed(NewSMA(window), xs[len(xs)-window:]).Value()
}

// rangeOf returns the trailing window's highest high, lowest low and last
// close. ok is false when the inputs cannot fill the window or the range
// is degenerate.
func rangeOf(high, low, close []float64, window int) (hh, ll, c float64, ok bool) {
	n := len(close)
	if window <= 0 || n < window || len(high) != n || len(low) != n {
		return 0, 0, 0, false
	}
	hh, ll = math.Inf(-1), math.Inf(1)
	for i := n - window; i < n; i++ {
		hh = math.Max(hh, high[i])
		ll = math.Min(ll, low[i])
	}
	if hh-ll == 0 {
		return 0, 0, 0, false
	}
	return hh, ll, close[n-1], true
}
