// Package performance turns an equity curve and a trade ledger into risk
// and return metrics. Degenerate inputs produce zero values, never errors.
package performance

import (
	"math"

	"quantdesk/internal/portfolio"
)

// ProfitFactorCap is reported as the profit factor when there are winning
// trades but no losing ones.
const ProfitFactorCap = 999.0

// DefaultPeriodsPerYear is used when a caller passes a non-positive value.
const DefaultPeriodsPerYear = 252

// Metrics is the computed metric set for one backtest.
type Metrics struct {
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
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	GrossProfit        float64 `json:"gross_profit"`
	GrossLoss          float64 `json:"gross_loss"`
	FinalValue         float64 `json:"final_value"`
}

// Compute derives Metrics from an equity curve and the closed trades.
//
// Return-based ratios use the per-bar return series and the sample standard
// deviation, annualized with sqrt(periodsPerYear). Sortino divides by the
// standard deviation of the negative returns only and is 0 with fewer than
// two of them. Calmar divides the compounded annual return by the absolute
// maximum drawdown.
func Compute(equity []float64, trades []portfolio.TradeEvent, initialCash, periodsPerYear float64) Metrics {
	var m Metrics
	if len(equity) == 0 {
		return m
	}
	if !(periodsPerYear > 0) {
		periodsPerYear = DefaultPeriodsPerYear
	}

	m.FinalValue = equity[len(equity)-1]
	if initialCash > 0 {
		m.TotalReturn = finite((m.FinalValue - initialCash) / initialCash)
	}
	tradeStats(&m, trades)

	returns := periodReturns(equity)
	if len(returns) == 0 {
		return m
	}
	scale := math.Sqrt(periodsPerYear)
	avg := arithmeticMean(returns)

	if sd := sampleStdDev(returns); sd > 0 {
		m.Volatility = finite(sd * scale)
		m.SharpeRatio = finite(avg / sd * scale)
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if sd := sampleStdDev(downside); sd > 0 {
		m.SortinoRatio = finite(avg / sd * scale)
	}

	m.MaxDrawdown = maxDrawdown(equity)
	m.MaxDrawdownPercent = m.MaxDrawdown * 100
	m.AnnualizedReturn = finite(annualizedReturn(initialCash, m.FinalValue, len(returns), periodsPerYear))
	if m.MaxDrawdown != 0 {
		m.CalmarRatio = finite(m.AnnualizedReturn / math.Abs(m.MaxDrawdown))
	}
	return m
}

func tradeStats(m *Metrics, trades []portfolio.TradeEvent) {
	m.TotalTrades = len(trades)
	if m.TotalTrades == 0 {
		return
	}
	for _, t := range trades {
		switch {
		case t.RealizedPnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.RealizedPnL
		case t.RealizedPnL < 0:
			m.LosingTrades++
			m.GrossLoss += -t.RealizedPnL
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = finite(m.GrossProfit / m.GrossLoss)
	case m.GrossProfit > 0:
		m.ProfitFactor = ProfitFactorCap
	}
}
