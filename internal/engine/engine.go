// Package engine runs backtests: it fetches price history, generates
// signals with a strategy, simulates the portfolio and computes metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/performance"
	"quantdesk/internal/portfolio"
	"quantdesk/internal/strategy"
)

var (
	// ErrNilStrategy is returned when a request carries no strategy.
	ErrNilStrategy = errors.New("strategy is required")
	// ErrInvalidRequest is returned for a malformed request. It is detected
	// before any price data is fetched.
	ErrInvalidRequest = errors.New("invalid backtest request")
)

// PriceProvider supplies ordered daily bars for a symbol within
// [start, end]. Implementations own caching and retry; errors are returned
// to the caller unchanged.
type PriceProvider interface {
	GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Recorder observes completed runs. Outcome is one of the Outcome*
// constants.
type Recorder interface {
	ObserveRun(strategyName, outcome string, bars int, elapsed time.Duration)
}

// Run outcomes reported to a Recorder.
const (
	OutcomeOK            = "ok"
	OutcomeNoData        = "no_data"
	OutcomeInvalid       = "invalid"
	OutcomeProviderError = "provider_error"
	OutcomeError         = "error"
)

// Config holds the engine-wide defaults applied to every request.
type Config struct {
	// InitialCash is used when a request leaves InitialCash at zero.
	InitialCash    float64
	PeriodsPerYear float64
	Policy         portfolio.Policy
}

// DefaultConfig returns 100000 starting cash, 252 periods per year and the
// reference portfolio policy.
func DefaultConfig() Config {
	return Config{
		InitialCash:    100000,
		PeriodsPerYear: performance.DefaultPeriodsPerYear,
		Policy:         portfolio.DefaultPolicy(),
	}
}

// Request describes one backtest.
type Request struct {
	Symbol   string
	Strategy strategy.Strategy
	Start    time.Time
	// End is inclusive; the zero value means the latest available data.
	End time.Time
	// InitialCash overrides Config.InitialCash when positive.
	InitialCash float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder attaches a run observer.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithClock overrides the time source used to resolve an open end date.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is stateless between runs apart from its provider handle, so one
// Engine may serve concurrent RunBacktest calls.
type Engine struct {
	provider PriceProvider
	cfg      Config
	sim      *portfolio.Simulator
	log      *slog.Logger
	rec      Recorder
	now      func() time.Time
}

// New creates an Engine reading prices from provider.
func New(provider PriceProvider, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if !(cfg.InitialCash > 0) {
		cfg.InitialCash = def.InitialCash
	}
	if !(cfg.PeriodsPerYear > 0) {
		cfg.PeriodsPerYear = def.PeriodsPerYear
	}
	e := &Engine{
		provider: provider,
		cfg:      cfg,
		sim:      portfolio.NewSimulator(cfg.Policy),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine defaults.
func (e *Engine) Config() Config { return e.cfg }

// RunBacktest runs one backtest. It returns (nil, nil) when the provider has
// no bars for the range. Strategy parameter errors and malformed requests
// are reported before the provider is called; provider errors are returned
// as-is.
func (e *Engine) RunBacktest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	name := ""
	if req.Strategy != nil {
		name = req.Strategy.Name()
	}

	req, err := e.prepare(req)
	if err != nil {
		e.observe(name, OutcomeInvalid, 0, started)
		return nil, err
	}
	log := e.log.With("symbol", req.Symbol, "strategy", name)

	bars, err := e.provider.GetPriceHistory(ctx, req.Symbol, req.Start, req.End)
	if err != nil {
		log.Warn("price history fetch failed", "error", err)
		e.observe(name, OutcomeProviderError, 0, started)
		return nil, err
	}
	bars = domain.NormalizeBars(bars)
	if len(bars) == 0 {
		log.Info("no price data", "start", req.Start.Format(time.DateOnly), "end", req.End.Format(time.DateOnly))
		e.observe(name, OutcomeNoData, 0, started)
		return nil, nil
	}
	log.Debug("price history loaded", "bars", len(bars))

	res, err := e.evaluate(req, bars)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, strategy.ErrInvalidParameter) {
			outcome = OutcomeInvalid
		}
		e.observe(name, outcome, len(bars), started)
		return nil, err
	}

	elapsed := time.Since(started)
	log.Info("backtest complete",
		"bars", len(bars),
		"trades", res.TotalTrades,
		"total_return", res.TotalReturn,
		"elapsed", elapsed,
	)
	if e.rec != nil {
		e.rec.ObserveRun(name, OutcomeOK, len(bars), elapsed)
	}
	return res, nil
}

// prepare validates the request and fills in defaults.
func (e *Engine) prepare(req Request) (Request, error) {
	if req.Strategy == nil {
		return req, ErrNilStrategy
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return req, fmt.Errorf("%w: symbol is empty", ErrInvalidRequest)
	}
	switch {
	case req.InitialCash == 0:
		req.InitialCash = e.cfg.InitialCash
	case !(req.InitialCash > 0) || math.IsInf(req.InitialCash, 0):
		return req, fmt.Errorf("%w: initial cash %v must be positive", ErrInvalidRequest, req.InitialCash)
	}
	if req.End.IsZero() {
		req.End = e.now()
	}
	if req.End.Before(req.Start) {
		return req, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidRequest, req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}
	if err := req.Strategy.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// evaluate is the pure part of a run: signals, simulation and metrics.
func (e *Engine) evaluate(req Request, bars []domain.Bar) (*Result, error) {
	signals, err := req.Strategy.GenerateSignals(bars)
	if err != nil {
		return nil, fmt.Errorf("generating %s signals: %w", req.Strategy.Name(), err)
	}
	if signals.Len() != len(bars) {
		return nil, fmt.Errorf("strategy %s returned %d signals for %d bars", req.Strategy.Name(), signals.Len(), len(bars))
	}

	sim, err := e.sim.Simulate(bars, signals.Signals, req.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("simulating portfolio: %w", err)
	}
	m := performance.Compute(sim.Equity, sim.Trades, req.InitialCash, e.cfg.PeriodsPerYear)
	return newResult(req, bars, sim, m, e.cfg.Policy.EndOfSeries), nil
}

func (e *Engine) observe(name, outcome string, bars int, started time.Time) {
	if e.rec != nil {
		e.rec.ObserveRun(name, outcome, bars, time.Since(started))
	}
}
