package indicator

// RSI is Wilder's Relative Strength Index. The first value averages the
// first period price changes; later values use Wilder smoothing. A series
// with no movement reads as the neutral 50.
type RSI struct {
	period  int
	changes int
	last    float64
	started bool
	gain    float64
	loss    float64
}

// NewRSI returns an RSI over period price changes (14 is conventional).
func NewRSI(period int) *RSI {
	return &RSI{period: max(period, 1)}
}

func (r *RSI) Update(price float64) {
	if !r.started {
		r.last, r.started = price, true
		return
	}
	up, down := 0.0, 0.0
	if d := price - r.last; d > 0 {
		up = d
	} else {
		down = -d
	}
	r.last = price
	r.changes++

	p := float64(r.period)
	switch {
	case r.changes < r.period:
		r.gain += up
		r.loss += down
	case r.changes == r.period:
		r.gain = (r.gain + up) / p
		r.loss = (r.loss + down) / p
	default:
		r.gain = (r.gain*(p-1) + up) / p
		r.loss = (r.loss*(p-1) + down) / p
	}
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return neutralRSI
	}
	switch {
	case r.gain == 0 && r.loss == 0:
		return neutralRSI
	case r.loss == 0:
		return 100
	}
	return 100 - 100/(1+r.gain/r.loss)
}

func (r *RSI) Ready() bool { return r.changes >= r.period }
