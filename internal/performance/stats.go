package performance

import "math"

// arithmeticMean returns the mean of values, 0 for an empty slice.
func arithmeticMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev returns the n-1 standard deviation, 0 for fewer than two
// values.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := arithmeticMean(values)
	var sq float64
	for _, v := range values {
		d := v - avg
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// periodReturns returns equity[i]/equity[i-1] - 1 for i >= 1. A zero
// previous value contributes a zero return.
func periodReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out[i-1] = equity[i]/equity[i-1] - 1
	}
	return out
}

// maxDrawdown returns the most negative equity[i]/peak - 1, where peak is
// the running maximum. The result is <= 0.
func maxDrawdown(equity []float64) float64 {
	var worst float64
	peak := math.Inf(-1)
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := v/peak - 1; dd < worst {
			worst = dd
		}
	}
	return worst
}

// annualizedReturn compounds the total growth over len(returns) periods to
// a yearly rate. A non-positive final value is a total loss.
func annualizedReturn(initial, final float64, periods int, periodsPerYear float64) float64 {
	if initial <= 0 || periods == 0 {
		return 0
	}
	if final <= 0 {
		return -1
	}
	return math.Pow(final/initial, periodsPerYear/float64(periods)) - 1
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
