package builtins

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/domain"
	"quantdesk/internal/indicator"
	"quantdesk/internal/strategy"
)

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func barsFromCloses(closes []float64) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: base.AddDate(0, 0, i),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return bars
}

func TestSMACrossRejectsBadPeriods(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ fast, slow int }{{30, 10}, {10, 10}, {0, 10}, {5, 0}} {
		_, err := NewSMACross(tc.fast, tc.slow)
		assert.ErrorIs(t, err, strategy.ErrInvalidParameter, "fast=%d slow=%d", tc.fast, tc.slow)
	}

	s := &SMACross{fastPeriod: 20, slowPeriod: 5}
	_, err := s.GenerateSignals(barsFromCloses([]float64{1, 2, 3}))
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
}

func TestSMACrossFromParams(t *testing.T) {
	t.Parallel()
	s, err := NewSMACrossFromParams(strategy.Params{"fast_period": "5", "slow_period": 20})
	require.NoError(t, err)
	sc := s.(*SMACross)
	assert.Equal(t, 5, sc.FastPeriod())
	assert.Equal(t, 20, sc.SlowPeriod())

	s, err = NewSMACrossFromParams(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultFastPeriod, s.(*SMACross).FastPeriod())

	_, err = NewSMACrossFromParams(strategy.Params{"fast_period": 30, "slow_period": 10})
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)

	_, err = NewSMACrossFromParams(strategy.Params{"window": 3})
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
}

func TestSMACrossEmptySeries(t *testing.T) {
	t.Parallel()
	s, err := NewSMACross(2, 5)
	require.NoError(t, err)
	out, err := s.GenerateSignals(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestSMACrossMonotonicIncrease(t *testing.T) {
	t.Parallel()
	s, err := NewSMACross(5, 20)
	require.NoError(t, err)

	out, err := s.GenerateSignals(barsFromCloses(linspace(10, 500, 200)))
	require.NoError(t, err)
	require.Equal(t, 200, out.Len())
	for i, sig := range out.Signals {
		if i < 19 {
			assert.Equal(t, domain.SignalHold, sig, "warm-up index %d", i)
			assert.True(t, math.IsNaN(out.Indicators["slow_sma"][i]))
			continue
		}
		assert.Equal(t, domain.SignalBuy, sig, "index %d", i)
	}
}

func TestSMACrossUpThenDown(t *testing.T) {
	t.Parallel()
	closes := append(linspace(100, 200, 50), linspace(200, 100, 50)...)
	s, err := NewSMACross(10, 30)
	require.NoError(t, err)

	out, err := s.GenerateSignals(barsFromCloses(closes))
	require.NoError(t, err)
	require.Equal(t, 100, out.Len())
	assert.Equal(t, domain.SignalBuy, out.Signals[40])
	assert.Equal(t, domain.SignalSell, out.Signals[len(closes)-10])
	assert.Equal(t, domain.SignalSell, out.Signals[len(closes)-11])
}

func TestSMACrossConstantSeries(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 1000)
	for i := range closes {
		closes[i] = 100.1
	}
	s, err := NewSMACross(7, 33)
	require.NoError(t, err)

	out, err := s.GenerateSignals(barsFromCloses(closes))
	require.NoError(t, err)
	for i, sig := range out.Signals {
		assert.Equal(t, domain.SignalHold, sig, "index %d", i)
	}
}

func TestRSIThresholdValidation(t *testing.T) {
	t.Parallel()
	_, err := NewRSIThreshold(0, 30, 70)
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
	_, err = NewRSIThreshold(14, 70, 30)
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
	_, err = NewRSIThreshold(14, -1, 70)
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
	_, err = NewRSIThresholdMode(14, 30, 70, "sometimes")
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)

	s, err := NewRSIThresholdFromParams(strategy.Params{"lookback_period": 7, "mode": "level"})
	require.NoError(t, err)
	assert.Equal(t, ModeLevel, s.(*RSIThreshold).Mode())
	assert.Equal(t, strategy.KindOscillatorThreshold, s.Kind())
}

func dipSeries() []float64 {
	var closes []float64
	closes = append(closes, linspace(100, 110, 20)...)
	closes = append(closes, linspace(109, 80, 30)...)
	closes = append(closes, linspace(81, 120, 40)...)
	return closes
}

func TestRSIThresholdCrossingSignalsOnce(t *testing.T) {
	t.Parallel()
	bars := barsFromCloses(dipSeries())

	crossing, err := NewRSIThreshold(14, 30, 70)
	require.NoError(t, err)
	cOut, err := crossing.GenerateSignals(bars)
	require.NoError(t, err)

	level, err := NewRSIThresholdMode(14, 30, 70, ModeLevel)
	require.NoError(t, err)
	lOut, err := level.GenerateSignals(bars)
	require.NoError(t, err)

	count := func(sigs []domain.Signal, want domain.Signal) int {
		n := 0
		for _, s := range sigs {
			if s == want {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(cOut.Signals, domain.SignalBuy))
	assert.Equal(t, 1, count(cOut.Signals, domain.SignalSell))
	assert.Greater(t, count(lOut.Signals, domain.SignalBuy), 1)
	assert.Greater(t, count(lOut.Signals, domain.SignalSell), 1)
}

func TestRSIThresholdAlignment(t *testing.T) {
	t.Parallel()
	closes := dipSeries()
	s, err := NewRSIThreshold(14, 30, 70)
	require.NoError(t, err)
	out, err := s.GenerateSignals(barsFromCloses(closes))
	require.NoError(t, err)

	rsi := indicator.RSISeries(closes, 14)
	for i := range closes {
		assert.Contains(t, []domain.Signal{-1, 0, 1}, out.Signals[i])
		if i < 14 {
			assert.Equal(t, domain.SignalHold, out.Signals[i])
			continue
		}
		if i == 14 {
			continue
		}
		wantBuy := rsi[i] < 30 && rsi[i-1] >= 30
		wantSell := rsi[i] > 70 && rsi[i-1] <= 70
		assert.Equal(t, wantBuy, out.Signals[i] == domain.SignalBuy, "index %d", i)
		assert.Equal(t, wantSell, out.Signals[i] == domain.SignalSell, "index %d", i)
	}
}

func TestRegistryBuiltins(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	assert.Equal(t, []string{RSIThresholdName, SMACrossName}, r.List())

	s, err := r.New(SMACrossName, strategy.Params{"fast_period": 3, "slow_period": 8})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindMovingAverageCrossover, s.Kind())
}
