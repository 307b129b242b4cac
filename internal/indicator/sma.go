// Package indicator implements streaming technical indicators. Every
// indicator updates in O(1) per value so a full series costs O(n)
// regardless of the window length.
package indicator

import "math"

// SMA calculates a simple moving average over a rolling window using a
// preallocated circular buffer and a running sum.
type SMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

// NewSMA creates an SMA with the given period. period must be >= 1.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

// Update pushes v into the window and returns the current average and
// whether the window has been filled.
func (s *SMA) Update(v float64) (float64, bool) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
	return s.current, s.Ready()
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }
func (s *SMA) Period() int    { return s.period }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// SMASeries returns the moving average of values aligned by index. Indices
// before the window is filled hold NaN.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	s := NewSMA(period)
	for i, v := range values {
		if avg, ok := s.Update(v); ok {
			out[i] = avg
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
