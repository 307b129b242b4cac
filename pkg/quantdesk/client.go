// Package quantdesk is a Go client for the quantdesk-server HTTP API.
package quantdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the quantdesk-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantdesk API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quantdesk: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Report is the flat summary of one backtest run.
type Report struct {
	RunID              string    `json:"run_id"`
	Status             string    `json:"status"`
	Symbol             string    `json:"symbol"`
	StrategyName       string    `json:"strategy_name"`
	StrategyKind       string    `json:"strategy_kind"`
	From               string    `json:"from"`
	To                 string    `json:"to"`
	Bars               int       `json:"bars"`
	InitialCash        float64   `json:"initial_cash"`
	EndOfSeries        string    `json:"end_of_series"`
	TotalReturn        float64   `json:"total_return"`
	AnnualizedReturn   float64   `json:"annualized_return"`
	Volatility         float64   `json:"volatility"`
	SharpeRatio        float64   `json:"sharpe_ratio"`
	SortinoRatio       float64   `json:"sortino_ratio"`
	CalmarRatio        float64   `json:"calmar_ratio"`
	MaxDrawdown        float64   `json:"max_drawdown"`
	MaxDrawdownPercent float64   `json:"max_drawdown_percent"`
	WinRate            float64   `json:"win_rate"`
	ProfitFactor       float64   `json:"profit_factor"`
	TotalTrades        int       `json:"total_trades"`
	EntriesCount       int       `json:"entries_count"`
	ExitsCount         int       `json:"exits_count"`
	FinalValue         float64   `json:"final_value"`
	OpenPosition       string    `json:"open_position"`
	EquityCurve        []float64 `json:"equity_curve"`
}

// RunSummary is one entry of a symbol's run history.
type RunSummary struct {
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
}

const statusInsufficientData = "insufficient_data"

// RunBacktest runs strategy on symbol over [start, end]. Zero times leave
// the bound to the server. It returns (nil, nil) when the server has no
// price data for the range.
func (c *Client) RunBacktest(ctx context.Context, symbol, strategy string, params map[string]any, start, end time.Time) (*Report, error) {
	q := url.Values{}
	q.Set("strategy", strategy)
	if !start.IsZero() {
		q.Set("start", start.Format(time.DateOnly))
	}
	if !end.IsZero() {
		q.Set("end", end.Format(time.DateOnly))
	}
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}

	var rep Report
	if err := c.get(ctx, "/api/backtest/"+url.PathEscape(symbol), q, &rep); err != nil {
		return nil, err
	}
	if rep.Status == statusInsufficientData {
		return nil, nil
	}
	return &rep, nil
}

// ListStrategies returns the strategy names registered on the server.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	var out struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.get(ctx, "/api/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// History returns up to limit persisted runs for symbol, newest first.
func (c *Client) History(ctx context.Context, symbol string, limit int) ([]RunSummary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.get(ctx, "/api/backtests/"+url.PathEscape(symbol), q, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
