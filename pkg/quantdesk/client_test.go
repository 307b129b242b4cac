package quantdesk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestRunBacktest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/backtest/AAPL":
			q := r.URL.Query()
			if q.Get("strategy") != "sma-cross" || q.Get("fast_period") != "5" || q.Get("start") != "2024-01-02" || q.Has("end") {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			w.Write([]byte(`{"status":"ok","run_id":"abc","symbol":"AAPL","bars":3,"total_trades":1,"final_value":1500,"equity_curve":[1000,1200,1500]}`))
		case "/api/backtest/MSFT":
			w.Write([]byte(`{"status":"insufficient_data","symbol":"MSFT"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unknown strategy"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	rep, err := c.RunBacktest(ctx, "AAPL", "sma-cross", map[string]any{"fast_period": 5}, start, time.Time{})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if rep.RunID != "abc" || rep.Bars != 3 || rep.FinalValue != 1500 || len(rep.EquityCurve) != 3 {
		t.Errorf("report = %+v", rep)
	}

	rep, err = c.RunBacktest(ctx, "MSFT", "sma-cross", nil, time.Time{}, time.Time{})
	if err != nil || rep != nil {
		t.Errorf("insufficient data: rep %v, err %v", rep, err)
	}

	_, err = c.RunBacktest(ctx, "TSLA", "nope", nil, time.Time{}, time.Time{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "unknown strategy" {
		t.Errorf("err = %v", err)
	}
}

func TestListStrategiesAndHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/strategies":
			w.Write([]byte(`{"strategies":["rsi-threshold","sma-cross"]}`))
		case "/api/backtests/AAPL":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`{"symbol":"AAPL","runs":[{"id":"r1","symbol":"AAPL","strategy":"sma-cross","created_at":"2025-03-01T12:00:00Z","total_trades":2}]}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	names, err := c.ListStrategies(context.Background())
	if err != nil || len(names) != 2 || names[1] != "sma-cross" {
		t.Errorf("ListStrategies = %v, %v", names, err)
	}
	runs, err := c.History(context.Background(), "AAPL", 2)
	if err != nil || len(runs) != 1 || runs[0].ID != "r1" || runs[0].TotalTrades != 2 {
		t.Errorf("History = %+v, %v", runs, err)
	}
}
