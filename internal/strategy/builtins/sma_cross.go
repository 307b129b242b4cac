// Package builtins provides the strategy implementations that ship with
// quantdesk.
package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicator"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

const (
	// SMACrossName is the registry name of the moving-average crossover.
	SMACrossName = "sma-cross"

	fastPeriodKey = "fast_period"
	slowPeriodKey = "slow_period"

	defaultFastPeriod = 10
	defaultSlowPeriod = 30
)

// SMACross implements a simple moving average crossover. The signal is
// buy while the fast SMA of closes is above the slow SMA, sell while it is
// below, and hold while either average is still warming up or the two are
// equal. Averages within a relative difference of 1e-9 count as equal.
type SMACross struct {
	fastPeriod int
	slowPeriod int
}

// NewSMACross creates an SMACross strategy. It fails with
// strategy.ErrInvalidParameter unless 1 <= fast < slow.
func NewSMACross(fast, slow int) (*SMACross, error) {
	s := &SMACross{fastPeriod: fast, slowPeriod: slow}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSMACrossFromParams builds an SMACross from fast_period and
// slow_period, defaulting to 10 and 30.
func NewSMACrossFromParams(p strategy.Params) (strategy.Strategy, error) {
	if err := p.CheckKeys(SMACrossName, fastPeriodKey, slowPeriodKey); err != nil {
		return nil, err
	}
	fast, err := p.Int(SMACrossName, fastPeriodKey, defaultFastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := p.Int(SMACrossName, slowPeriodKey, defaultSlowPeriod)
	if err != nil {
		return nil, err
	}
	return NewSMACross(fast, slow)
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return SMACrossName }

// Kind returns strategy.KindMovingAverageCrossover.
func (s *SMACross) Kind() strategy.Kind { return strategy.KindMovingAverageCrossover }

// FastPeriod returns the fast window length.
func (s *SMACross) FastPeriod() int { return s.fastPeriod }

// SlowPeriod returns the slow window length.
func (s *SMACross) SlowPeriod() int { return s.slowPeriod }

// Validate checks 1 <= fast < slow.
func (s *SMACross) Validate() error {
	switch {
	case s.fastPeriod < 1:
		return &strategy.ParameterError{Strategy: SMACrossName, Param: fastPeriodKey, Value: s.fastPeriod, Reason: "must be at least 1"}
	case s.slowPeriod < 1:
		return &strategy.ParameterError{Strategy: SMACrossName, Param: slowPeriodKey, Value: s.slowPeriod, Reason: "must be at least 1"}
	case s.fastPeriod >= s.slowPeriod:
		return &strategy.ParameterError{
			Strategy: SMACrossName,
			Param:    fastPeriodKey,
			Value:    s.fastPeriod,
			Reason:   "must be less than slow_period",
		}
	}
	return nil
}

// GenerateSignals computes both averages in a single pass and emits one
// signal per bar. Indicators "fast_sma" and "slow_sma" are NaN during
// their warm-up.
func (s *SMACross) GenerateSignals(bars []domain.Bar) (strategy.SignalSeries, error) {
	if err := s.Validate(); err != nil {
		return strategy.SignalSeries{}, err
	}

	n := len(bars)
	out := strategy.SignalSeries{
		Signals: make([]domain.Signal, n),
		Indicators: map[string][]float64{
			"fast_sma": make([]float64, n),
			"slow_sma": make([]float64, n),
		},
	}
	fastOut := out.Indicators["fast_sma"]
	slowOut := out.Indicators["slow_sma"]

	fast := indicator.NewSMA(s.fastPeriod)
	slow := indicator.NewSMA(s.slowPeriod)
	for i := range bars {
		f, fastReady := fast.Update(bars[i].Close)
		sl, slowReady := slow.Update(bars[i].Close)

		fastOut[i], slowOut[i] = math.NaN(), math.NaN()
		if fastReady {
			fastOut[i] = f
		}
		if slowReady {
			slowOut[i] = sl
		}
		if !fastReady || !slowReady || nearlyEqual(f, sl) {
			continue
		}
		if f > sl {
			out.Signals[i] = domain.SignalBuy
		} else {
			out.Signals[i] = domain.SignalSell
		}
	}
	return out, nil
}

// nearlyEqual treats averages that differ only by running-sum rounding as
// equal, so a constant series never produces a direction.
func nearlyEqual(a, b float64) bool {
	const relTol = 1e-9
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= relTol*scale
}
