package engine

import (
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/performance"
	"quantdesk/internal/portfolio"
)

// Result is the outcome of one backtest. It is built once and not modified
// afterwards.
type Result struct {
	Symbol       string    `json:"symbol"`
	StrategyName string    `json:"strategy_name"`
	StrategyKind string    `json:"strategy_kind"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Bars         int       `json:"bars"`
	InitialCash  float64   `json:"initial_cash"`
	EndOfSeries  string    `json:"end_of_series"`

	TotalReturn        float64 `json:"total_return"`
	AnnualizedReturn   float64 `json:"annualized_return"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	WinRate            float64 `json:"win_rate"`
	ProfitFactor       float64 `json:"profit_factor"`
	TotalTrades        int     `json:"total_trades"`
	EntriesCount       int     `json:"entries_count"`
	ExitsCount         int     `json:"exits_count"`
	FinalValue         float64 `json:"final_value"`
	// OpenPosition is the side left open after the last bar.
	OpenPosition domain.PositionSide `json:"open_position"`

	EquityCurve []float64              `json:"equity_curve"`
	Trades      []portfolio.TradeEvent `json:"trades"`
}

func newResult(req Request, bars []domain.Bar, sim portfolio.Result, m performance.Metrics, eos portfolio.EndOfSeries) *Result {
	trades := sim.Trades
	if trades == nil {
		trades = []portfolio.TradeEvent{}
	}
	return &Result{
		Symbol:             req.Symbol,
		StrategyName:       req.Strategy.Name(),
		StrategyKind:       req.Strategy.Kind().String(),
		From:               bars[0].Timestamp,
		To:                 bars[len(bars)-1].Timestamp,
		Bars:               len(bars),
		InitialCash:        req.InitialCash,
		EndOfSeries:        eos.String(),
		TotalReturn:        m.TotalReturn,
		AnnualizedReturn:   m.AnnualizedReturn,
		Volatility:         m.Volatility,
		SharpeRatio:        m.SharpeRatio,
		SortinoRatio:       m.SortinoRatio,
		CalmarRatio:        m.CalmarRatio,
		MaxDrawdown:        m.MaxDrawdown,
		MaxDrawdownPercent: m.MaxDrawdownPercent,
		WinRate:            m.WinRate,
		ProfitFactor:       m.ProfitFactor,
		TotalTrades:        m.TotalTrades,
		EntriesCount:       sim.Entries,
		ExitsCount:         sim.Exits,
		FinalValue:         m.FinalValue,
		OpenPosition:       sim.FinalSide,
		EquityCurve:        sim.Equity,
		Trades:             trades,
	}
}

// Fields flattens the result into JSON-compatible scalar values, the shape
// used by the reporting endpoints. The equity curve is included as a
// []any; trades are omitted.
func (r *Result) Fields() map[string]any {
	curve := make([]any, len(r.EquityCurve))
	for i, v := range r.EquityCurve {
		curve[i] = v
	}
	return map[string]any{
		"symbol":               r.Symbol,
		"strategy_name":        r.StrategyName,
		"strategy_kind":        r.StrategyKind,
		"from":                 r.From.Format(time.DateOnly),
		"to":                   r.To.Format(time.DateOnly),
		"bars":                 float64(r.Bars),
		"initial_cash":         r.InitialCash,
		"end_of_series":        r.EndOfSeries,
		"total_return":         r.TotalReturn,
		"annualized_return":    r.AnnualizedReturn,
		"volatility":           r.Volatility,
		"sharpe_ratio":         r.SharpeRatio,
		"sortino_ratio":        r.SortinoRatio,
		"calmar_ratio":         r.CalmarRatio,
		"max_drawdown":         r.MaxDrawdown,
		"max_drawdown_percent": r.MaxDrawdownPercent,
		"win_rate":             r.WinRate,
		"profit_factor":        r.ProfitFactor,
		"total_trades":         float64(r.TotalTrades),
		"entries_count":        float64(r.EntriesCount),
		"exits_count":          float64(r.ExitsCount),
		"final_value":          r.FinalValue,
		"open_position":        string(r.OpenPosition),
		"equity_curve":         curve,
	}
}
