package indicator

// SMA is the arithmetic mean of the last period prices.
type SMA struct {
	window []float64
	next   int
	filled bool
	sum    float64
}

// NewSMA returns an SMA over period prices. Periods below 1 are treated as 1.
func NewSMA(period int) *SMA {
	return &SMA{window: make([]float64, max(period, 1))}
}

func (s *SMA) Update(price float64) {
	s.sum += price - s.window[s.next]
	s.window[s.next] = price
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.filled = true
	}
}

func (s *SMA) Value() float64 {
	if !s.filled {
		return 0
	}
	return s.sum / float64(len(s.window))
}

func (s *SMA) Ready() bool { return s.filled }
