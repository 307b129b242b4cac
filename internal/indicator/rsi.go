package indicator

import "math"

// neutralRSI is reported for a window with neither gains nor losses.
const neutralRSI = 50.0

// RSI calculates the Relative Strength Index using Wilder's smoothing. The
// first average gain and loss are the simple means of the first period
// deltas; later values use avg = (prev*(period-1) + x) / period.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates an RSI with the given lookback period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

// Update pushes the next close and returns the current RSI and whether
// enough values have been seen to produce one.
func (r *RSI) Update(price float64) (float64, bool) {
	r.count++
	if r.count == 1 {
		r.prevClose = price
		return r.current, false
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return r.current, r.Ready()
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiValue(r.avgGain, r.avgLoss)
	return r.current, true
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }
func (r *RSI) Period() int    { return r.period }

func rsiValue(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0 && avgLoss == 0:
		return neutralRSI
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RSISeries returns the RSI of values aligned by index. Indices before the
// first full lookback hold NaN.
func RSISeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	r := NewRSI(period)
	for i, v := range values {
		if x, ok := r.Update(v); ok {
			out[i] = x
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
