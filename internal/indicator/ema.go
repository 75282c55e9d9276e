package indicator

// EMA is an exponential moving average with smoothing 2/(period+1). The
// first value is the simple mean of the first period prices.
type EMA struct {
	period int
	alpha  float64
	seen   int
	value  float64
}

// NewEMA returns an EMA over period prices. Periods below 1 are treated as 1.
func NewEMA(period int) *EMA {
	period = max(period, 1)
	return &EMA{period: period, alpha: 2 / float64(period+1)}
}

func (e *EMA) Update(price float64) {
	e.seen++
	switch {
	case e.seen < e.period:
		e.value += price
	case e.seen == e.period:
		e.value = (e.value + price) / float64(e.period)
	default:
		e.value += e.alpha * (price - e.value)
	}
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

func (e *EMA) Ready() bool { return e.seen >= e.period }
