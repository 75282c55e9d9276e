// Package indicator computes technical indicators over daily price series.
//
// Streaming indicators (SMA, EMA, RSI) take one close at a time. The batch
// functions in calc.go fold a series through them and fall back to neutral
// values when the series is too short, so callers never special-case
// missing data.
package indicator

// Indicator is a streaming indicator fed one price at a time.
type Indicator interface {
	Update(price float64)
	// Value is 0 (50 for RSI) until Ready.
	Value() float64
	Ready() bool
}

// Feed pushes every price through ind and returns it.
func Feed[I Indicator](ind I, prices []float64) I {
	for _, p := range prices {
		ind.Update(p)
	}
	return ind
}
