package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantdesk/internal/domain"
	"quantdesk/internal/portfolio"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
)

var (
	day0  = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	fixed = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
)

type fakeProvider struct {
	bars  map[string][]domain.Bar
	err   error
	calls atomic.Int32

	mu      sync.Mutex
	lastEnd time.Time
}

func (p *fakeProvider) GetPriceHistory(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.lastEnd = end
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []domain.Bar
	for _, b := range p.bars[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func series(symbol string, closes []float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

func upThenDown() []float64 {
	var out []float64
	for i := 0; i < 50; i++ {
		out = append(out, 100+float64(i)*100/49)
	}
	for i := 0; i < 50; i++ {
		out = append(out, 200-float64(i)*100/49)
	}
	return out
}

func newTestEngine(p PriceProvider, opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return New(p, DefaultConfig(), opts...)
}

func smaCross(t *testing.T, fast, slow int) strategy.Strategy {
	t.Helper()
	s, err := builtins.NewSMACross(fast, slow)
	require.NoError(t, err)
	return s
}

// invalidStrategy fails validation the way a misconfigured crossover would.
type invalidStrategy struct{}

func (invalidStrategy) Name() string        { return "sma-cross" }
func (invalidStrategy) Kind() strategy.Kind { return strategy.KindMovingAverageCrossover }
func (invalidStrategy) Validate() error {
	return &strategy.ParameterError{Strategy: "sma-cross", Param: "fast_period", Value: 30, Reason: "must be less than slow_period"}
}
func (invalidStrategy) GenerateSignals([]domain.Bar) (strategy.SignalSeries, error) {
	panic("GenerateSignals called on an invalid strategy")
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingRecorder) ObserveRun(_, outcome string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestRunBacktest(t *testing.T) {
	p := &fakeProvider{bars: map[string][]domain.Bar{"ACME": series("ACME", upThenDown())}}
	e := newTestEngine(p)

	res, err := e.RunBacktest(context.Background(), Request{Symbol: "acme", Strategy: smaCross(t, 10, 30), Start: day0})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "ACME", res.Symbol)
	assert.Equal(t, builtins.SMACrossName, res.StrategyName)
	assert.Equal(t, "moving-average-crossover", res.StrategyKind)
	assert.Equal(t, 100, res.Bars)
	assert.Len(t, res.EquityCurve, 100)
	assert.Equal(t, 100000.0, res.EquityCurve[0])
	assert.Equal(t, 100000.0, res.InitialCash)
	assert.Equal(t, res.EquityCurve[99], res.FinalValue)
	assert.Equal(t, 1, res.EntriesCount)
	assert.Equal(t, 1, res.ExitsCount)
	assert.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, "leave_open", res.EndOfSeries)
	assert.Equal(t, day0, res.From)
	assert.Equal(t, fixed, p.lastEnd)
	assert.LessOrEqual(t, res.MaxDrawdown, 0.0)
}

func TestRunBacktestNoData(t *testing.T) {
	rec := &recordingRecorder{}
	p := &fakeProvider{bars: map[string][]domain.Bar{}}
	e := newTestEngine(p, WithRecorder(rec))

	res, err := e.RunBacktest(context.Background(), Request{Symbol: "NEWCO", Strategy: smaCross(t, 2, 5), Start: day0})
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, []string{OutcomeNoData}, rec.outcomes)
}

func TestRunBacktestInvalidParametersBeforeFetch(t *testing.T) {
	rec := &recordingRecorder{}
	p := &fakeProvider{bars: map[string][]domain.Bar{"ACME": series("ACME", upThenDown())}}
	e := newTestEngine(p, WithRecorder(rec))

	_, err := e.RunBacktest(context.Background(), Request{Symbol: "ACME", Strategy: invalidStrategy{}, Start: day0})
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
	var pe *strategy.ParameterError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Equal(t, []string{OutcomeInvalid}, rec.outcomes)

	_, err = builtins.NewRegistry().New(builtins.SMACrossName, strategy.Params{"fast_period": 30, "slow_period": 10})
	assert.ErrorIs(t, err, strategy.ErrInvalidParameter)
}

func TestRunBacktestInvalidRequests(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEngine(p)
	s := smaCross(t, 2, 5)

	for name, req := range map[string]Request{
		"empty symbol":  {Symbol: "  ", Strategy: s, Start: day0},
		"negative cash": {Symbol: "ACME", Strategy: s, Start: day0, InitialCash: -5},
		"end < start":   {Symbol: "ACME", Strategy: s, Start: day0, End: day0.AddDate(0, 0, -1)},
	} {
		_, err := e.RunBacktest(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}
	_, err := e.RunBacktest(context.Background(), Request{Symbol: "ACME", Start: day0})
	assert.ErrorIs(t, err, ErrNilStrategy)
	assert.Equal(t, int32(0), p.calls.Load())
}

type unavailableError struct{ symbol string }

func (e *unavailableError) Error() string { return fmt.Sprintf("price source unavailable for %s", e.symbol) }

func TestRunBacktestProviderErrorUnchanged(t *testing.T) {
	perr := &unavailableError{symbol: "ACME"}
	rec := &recordingRecorder{}
	e := newTestEngine(&fakeProvider{err: perr}, WithRecorder(rec))

	res, err := e.RunBacktest(context.Background(), Request{Symbol: "ACME", Strategy: smaCross(t, 2, 5), Start: day0})
	assert.Nil(t, res)
	assert.Same(t, perr, err)
	assert.Equal(t, []string{OutcomeProviderError}, rec.outcomes)
}

func TestRunBacktestIdempotent(t *testing.T) {
	p := &fakeProvider{bars: map[string][]domain.Bar{"ACME": series("ACME", upThenDown())}}
	e := newTestEngine(p)
	req := Request{Symbol: "ACME", Strategy: smaCross(t, 5, 20), Start: day0, InitialCash: 25000}

	a, err := e.RunBacktest(context.Background(), req)
	require.NoError(t, err)
	b, err := e.RunBacktest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 25000.0, a.EquityCurve[0])
}

func TestRunBacktestForceClose(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 50 + float64(i)
	}
	p := &fakeProvider{bars: map[string][]domain.Bar{"UP": series("UP", closes)}}

	leave, err := newTestEngine(p).RunBacktest(context.Background(), Request{Symbol: "UP", Strategy: smaCross(t, 3, 10), Start: day0})
	require.NoError(t, err)
	assert.Equal(t, 0, leave.TotalTrades)
	assert.Equal(t, domain.PositionSideLong, leave.OpenPosition)

	cfg := DefaultConfig()
	cfg.Policy.EndOfSeries = portfolio.ForceClose
	forced, err := New(p, cfg, WithClock(func() time.Time { return fixed })).
		RunBacktest(context.Background(), Request{Symbol: "UP", Strategy: smaCross(t, 3, 10), Start: day0})
	require.NoError(t, err)
	assert.Equal(t, 1, forced.TotalTrades)
	assert.Equal(t, 1.0, forced.WinRate)
	assert.Equal(t, leave.FinalValue, forced.FinalValue)
	assert.True(t, forced.Trades[0].ForcedExit)
}

func TestResultFields(t *testing.T) {
	p := &fakeProvider{bars: map[string][]domain.Bar{"ACME": series("ACME", upThenDown())}}
	res, err := newTestEngine(p).RunBacktest(context.Background(), Request{Symbol: "ACME", Strategy: smaCross(t, 10, 30), Start: day0})
	require.NoError(t, err)

	f := res.Fields()
	for _, k := range []string{
		"symbol", "strategy_name", "total_return", "sharpe_ratio", "sortino_ratio", "calmar_ratio",
		"max_drawdown", "max_drawdown_percent", "win_rate", "profit_factor", "total_trades",
		"entries_count", "exits_count", "final_value", "equity_curve",
	} {
		assert.Contains(t, f, k)
	}
	assert.Equal(t, "ACME", f["symbol"])
	assert.Equal(t, float64(res.TotalTrades), f["total_trades"])
	assert.Len(t, f["equity_curve"], 100)
	assert.Equal(t, "2024-01-02", f["from"])
}

func TestRunBatch(t *testing.T) {
	p := &fakeProvider{bars: map[string][]domain.Bar{
		"AAA": series("AAA", upThenDown()),
		"BBB": series("BBB", upThenDown()),
	}}
	e := newTestEngine(p)
	s := smaCross(t, 10, 30)

	reqs := []Request{
		{Symbol: "AAA", Strategy: s, Start: day0},
		{Symbol: "ZZZ", Strategy: s, Start: day0},
		{Symbol: "BBB", Strategy: invalidStrategy{}, Start: day0},
		{Symbol: "BBB", Strategy: s, Start: day0},
	}
	out := e.RunBatch(context.Background(), reqs, 2)
	require.Len(t, out, 4)

	require.NoError(t, out[0].Err)
	assert.Equal(t, "AAA", out[0].Result.Symbol)
	assert.NoError(t, out[1].Err)
	assert.Nil(t, out[1].Result)
	assert.ErrorIs(t, out[2].Err, strategy.ErrInvalidParameter)
	require.NoError(t, out[3].Err)
	assert.Equal(t, "BBB", out[3].Result.Symbol)
	assert.Equal(t, out[0].Result.EquityCurve, out[3].Result.EquityCurve)
}

func TestRunBatchCancelled(t *testing.T) {
	p := &fakeProvider{bars: map[string][]domain.Bar{"AAA": series("AAA", upThenDown())}}
	e := newTestEngine(p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := e.RunBatch(ctx, []Request{{Symbol: "AAA", Strategy: smaCross(t, 2, 5)}, {Symbol: "AAA", Strategy: smaCross(t, 2, 5)}}, 0)
	for _, r := range out {
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(0, true, "force_close")
	require.NoError(t, err)
	assert.IsType(t, portfolio.AllIn{}, p.Sizer)
	assert.True(t, p.AllowShort)
	assert.Equal(t, portfolio.ForceClose, p.EndOfSeries)

	p, err = NewPolicy(0.25, false, "")
	require.NoError(t, err)
	assert.IsType(t, portfolio.Fraction{}, p.Sizer)

	_, err = NewPolicy(2, false, "")
	assert.Error(t, err)
	_, err = NewPolicy(0.5, false, "eventually")
	assert.Error(t, err)
}
