package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantdesk/internal/engine"
)

// RunRecord is one persisted backtest. The headline metrics are stored as
// columns for listing; Result holds the full report.
type RunRecord struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Strategy    string         `json:"strategy"`
	Params      map[string]any `json:"params"`
	CreatedAt   time.Time      `json:"created_at"`
	TotalReturn float64        `json:"total_return"`
	SharpeRatio float64        `json:"sharpe_ratio"`
	MaxDrawdown float64        `json:"max_drawdown"`
	TotalTrades int            `json:"total_trades"`
	FinalValue  float64        `json:"final_value"`
	Result      *engine.Result `json:"result,omitempty"`
}

// NewRunRecord wraps a result in a record with a fresh run ID.
func NewRunRecord(res *engine.Result, params map[string]any, now time.Time) RunRecord {
	if params == nil {
		params = map[string]any{}
	}
	return RunRecord{
		ID:          uuid.NewString(),
		Symbol:      res.Symbol,
		Strategy:    res.StrategyName,
		Params:      params,
		CreatedAt:   now.UTC(),
		TotalReturn: res.TotalReturn,
		SharpeRatio: res.SharpeRatio,
		MaxDrawdown: res.MaxDrawdown,
		TotalTrades: res.TotalTrades,
		FinalValue:  res.FinalValue,
		Result:      res,
	}
}

func (r RunRecord) validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("run id %q: %w", r.ID, err)
	}
	if r.Symbol == "" || r.Strategy == "" {
		return fmt.Errorf("run %s: symbol and strategy are required", r.ID)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
