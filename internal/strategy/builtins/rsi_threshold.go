package builtins

import (
	"math"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicator"
	"quantdesk/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIThreshold)(nil)

const (
	// RSIThresholdName is the registry name of the oscillator threshold
	// strategy.
	RSIThresholdName = "rsi-threshold"

	lookbackKey   = "lookback_period"
	oversoldKey   = "oversold_threshold"
	overboughtKey = "overbought_threshold"
	modeKey       = "mode"

	defaultLookback   = 14
	defaultOversold   = 30.0
	defaultOverbought = 70.0
)

// ThresholdMode selects how the oscillator is compared to its thresholds.
type ThresholdMode string

const (
	// ModeCrossing signals only on the bar where the oscillator moves from
	// inside the band to beyond a threshold.
	ModeCrossing ThresholdMode = "crossing"
	// ModeLevel signals on every bar the oscillator sits beyond a threshold.
	ModeLevel ThresholdMode = "level"
)

// RSIThreshold buys when Wilder's RSI drops below the oversold threshold
// and sells when it rises above the overbought threshold.
type RSIThreshold struct {
	lookback   int
	oversold   float64
	overbought float64
	mode       ThresholdMode
}

// NewRSIThreshold creates an RSIThreshold strategy using crossing
// semantics.
func NewRSIThreshold(lookback int, oversold, overbought float64) (*RSIThreshold, error) {
	return NewRSIThresholdMode(lookback, oversold, overbought, ModeCrossing)
}

// NewRSIThresholdMode creates an RSIThreshold strategy with an explicit
// threshold mode.
func NewRSIThresholdMode(lookback int, oversold, overbought float64, mode ThresholdMode) (*RSIThreshold, error) {
	s := &RSIThreshold{lookback: lookback, oversold: oversold, overbought: overbought, mode: mode}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRSIThresholdFromParams builds an RSIThreshold from lookback_period,
// oversold_threshold, overbought_threshold and mode.
func NewRSIThresholdFromParams(p strategy.Params) (strategy.Strategy, error) {
	if err := p.CheckKeys(RSIThresholdName, lookbackKey, oversoldKey, overboughtKey, modeKey); err != nil {
		return nil, err
	}
	lookback, err := p.Int(RSIThresholdName, lookbackKey, defaultLookback)
	if err != nil {
		return nil, err
	}
	oversold, err := p.Float(RSIThresholdName, oversoldKey, defaultOversold)
	if err != nil {
		return nil, err
	}
	overbought, err := p.Float(RSIThresholdName, overboughtKey, defaultOverbought)
	if err != nil {
		return nil, err
	}
	mode, err := p.Text(RSIThresholdName, modeKey, string(ModeCrossing))
	if err != nil {
		return nil, err
	}
	return NewRSIThresholdMode(lookback, oversold, overbought, ThresholdMode(mode))
}

// Name returns "rsi-threshold".
func (s *RSIThreshold) Name() string { return RSIThresholdName }

// Kind returns strategy.KindOscillatorThreshold.
func (s *RSIThreshold) Kind() strategy.Kind { return strategy.KindOscillatorThreshold }

// Mode returns the configured threshold mode.
func (s *RSIThreshold) Mode() ThresholdMode { return s.mode }

// Validate checks the lookback, the threshold ordering and the mode.
func (s *RSIThreshold) Validate() error {
	switch {
	case s.lookback < 1:
		return &strategy.ParameterError{Strategy: RSIThresholdName, Param: lookbackKey, Value: s.lookback, Reason: "must be at least 1"}
	case s.oversold < 0 || s.oversold > 100:
		return &strategy.ParameterError{Strategy: RSIThresholdName, Param: oversoldKey, Value: s.oversold, Reason: "must be within [0, 100]"}
	case s.overbought < 0 || s.overbought > 100:
		return &strategy.ParameterError{Strategy: RSIThresholdName, Param: overboughtKey, Value: s.overbought, Reason: "must be within [0, 100]"}
	case s.oversold >= s.overbought:
		return &strategy.ParameterError{
			Strategy: RSIThresholdName,
			Param:    oversoldKey,
			Value:    s.oversold,
			Reason:   "must be less than overbought_threshold",
		}
	case s.mode != ModeCrossing && s.mode != ModeLevel:
		return &strategy.ParameterError{Strategy: RSIThresholdName, Param: modeKey, Value: s.mode, Reason: "must be crossing or level"}
	}
	return nil
}

// GenerateSignals computes the RSI in one pass. In crossing mode the first
// bar with a defined RSI never signals, since there is no previous value to
// cross from. Indicator "rsi" is NaN during warm-up.
func (s *RSIThreshold) GenerateSignals(bars []domain.Bar) (strategy.SignalSeries, error) {
	if err := s.Validate(); err != nil {
		return strategy.SignalSeries{}, err
	}

	n := len(bars)
	out := strategy.SignalSeries{
		Signals:    make([]domain.Signal, n),
		Indicators: map[string][]float64{"rsi": make([]float64, n)},
	}
	rsiOut := out.Indicators["rsi"]

	rsi := indicator.NewRSI(s.lookback)
	prev, havePrev := 0.0, false
	for i := range bars {
		v, ready := rsi.Update(bars[i].Close)
		if !ready {
			rsiOut[i] = math.NaN()
			continue
		}
		rsiOut[i] = v

		switch s.mode {
		case ModeLevel:
			switch {
			case v < s.oversold:
				out.Signals[i] = domain.SignalBuy
			case v > s.overbought:
				out.Signals[i] = domain.SignalSell
			}
		case ModeCrossing:
			if havePrev {
				switch {
				case v < s.oversold && prev >= s.oversold:
					out.Signals[i] = domain.SignalBuy
				case v > s.overbought && prev <= s.overbought:
					out.Signals[i] = domain.SignalSell
				}
			}
		}
		prev, havePrev = v, true
	}
	return out, nil
}
