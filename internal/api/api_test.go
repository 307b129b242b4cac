package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/metrics"
	"quantdesk/internal/pricing"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy/builtins"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type mapProvider struct {
	bars map[string][]domain.Bar
	err  error
}

func (p *mapProvider) GetPriceHistory(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
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

func upThenDown(symbol string) []domain.Bar {
	var out []domain.Bar
	for i := 0; i < 100; i++ {
		c := 100 + float64(i)*100/49
		if i >= 50 {
			c = 200 - float64(i-50)*100/49
		}
		out = append(out, domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000})
	}
	return out
}

type fixture struct {
	svc     *Service
	server  *Server
	results *store.SQLiteStore
	handler http.Handler
}

func newFixture(t *testing.T, provider engine.PriceProvider) *fixture {
	t.Helper()
	results, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { results.Close() })

	m := metrics.NewMetrics()
	eng := engine.New(provider, engine.DefaultConfig(),
		engine.WithRecorder(m),
		engine.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)
	svc := NewService(eng, builtins.NewRegistry(), results, nil)
	srv := NewServer(config.Server{Host: "127.0.0.1"}, svc, WithMetrics(m))
	return &fixture{svc: svc, server: srv, results: results, handler: srv.Handler()}
}

func defaultProvider() *mapProvider {
	return &mapProvider{bars: map[string][]domain.Bar{"AAPL": upThenDown("AAPL")}}
}

func (f *fixture) get(t *testing.T, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestHandleStrategies(t *testing.T) {
	f := newFixture(t, defaultProvider())
	code, body := f.get(t, "/api/strategies")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"rsi-threshold", "sma-cross"}, body["strategies"])
}

func TestHandleBacktest(t *testing.T) {
	f := newFixture(t, defaultProvider())

	code, body := f.get(t, "/api/backtest/aapl?strategy=sma-cross&fast_period=5&slow_period=20&start=2024-01-01&end=2024-12-31&initial_cash=10000")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, StatusOK, body["status"])
	assert.Equal(t, "AAPL", body["symbol"])
	assert.Equal(t, "sma-cross", body["strategy_name"])
	assert.Equal(t, float64(100), body["bars"])
	assert.Equal(t, float64(10000), body["initial_cash"])
	assert.Len(t, body["equity_curve"], 100)
	assert.NotEmpty(t, body["run_id"])
	assert.Greater(t, body["total_trades"], float64(0))

	code, hist := f.get(t, "/api/backtests/AAPL?limit=5")
	require.Equal(t, http.StatusOK, code)
	runs, ok := hist["runs"].([]any)
	require.True(t, ok, hist)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, body["run_id"], run["id"])
	assert.Equal(t, map[string]any{"fast_period": "5", "slow_period": "20"}, run["params"])
	assert.NotContains(t, run, "result")
}

func TestHandleBacktestInsufficientData(t *testing.T) {
	f := newFixture(t, defaultProvider())
	code, body := f.get(t, "/api/backtest/msft?strategy=rsi-threshold&start=2024-01-01&end=2024-12-31")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"symbol": "MSFT", "status": StatusInsufficientData}, body)

	runs, err := f.results.ListResults(context.Background(), "MSFT", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHandleBacktestBadRequests(t *testing.T) {
	f := newFixture(t, defaultProvider())
	cases := map[string]string{
		"missing strategy": "/api/backtest/AAPL?start=2024-01-01",
		"unknown strategy": "/api/backtest/AAPL?strategy=momentum",
		"bad periods":      "/api/backtest/AAPL?strategy=sma-cross&fast_period=30&slow_period=10",
		"unknown param":    "/api/backtest/AAPL?strategy=sma-cross&window=3",
		"bad date":         "/api/backtest/AAPL?strategy=sma-cross&start=01/02/2024",
		"reversed range":   "/api/backtest/AAPL?strategy=sma-cross&start=2024-06-01&end=2024-01-01",
		"bad cash":         "/api/backtest/AAPL?strategy=sma-cross&initial_cash=lots",
		"negative cash":    "/api/backtest/AAPL?strategy=sma-cross&initial_cash=-5",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			code, body := f.get(t, target)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleBacktestProviderError(t *testing.T) {
	perr := &pricing.ProviderError{Provider: "alpaca", Symbol: "AAPL", Err: errors.New("503 service unavailable")}
	f := newFixture(t, &mapProvider{err: perr})
	code, body := f.get(t, "/api/backtest/AAPL?strategy=sma-cross")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, perr.Error(), body["error"])
}

func TestHandleHistoryDisabled(t *testing.T) {
	eng := engine.New(defaultProvider(), engine.DefaultConfig())
	srv := NewServer(config.Server{}, NewService(eng, builtins.NewRegistry(), nil, nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backtests/AAPL", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, defaultProvider())
	f.get(t, "/api/backtest/AAPL?strategy=sma-cross&fast_period=5&slow_period=20&start=2024-01-01&end=2024-12-31")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `strategy="sma-cross"`)
}

func dialBufconn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterBacktestServer(gs, NewBacktestService(svc))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPCRun(t *testing.T) {
	f := newFixture(t, defaultProvider())
	conn := dialBufconn(t, f.svc)
	ctx := context.Background()

	out := new(structpb.Struct)
	err := conn.Invoke(ctx, RunMethod, mustStruct(t, map[string]any{
		"symbol":   "aapl",
		"strategy": "sma-cross",
		"start":    "2024-01-01",
		"end":      "2024-12-31",
		"params":   map[string]any{"fast_period": 5, "slow_period": 20},
	}), out)
	require.NoError(t, err)
	got := out.AsMap()
	assert.Equal(t, "AAPL", got["symbol"])
	assert.Equal(t, StatusOK, got["status"])
	assert.Equal(t, float64(100), got["bars"])
	assert.NotEmpty(t, got["run_id"])

	out = new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, RunMethod, mustStruct(t, map[string]any{
		"symbol": "MSFT", "strategy": "sma-cross",
	}), out))
	assert.Equal(t, StatusInsufficientData, out.AsMap()["status"])

	out = new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, ListStrategiesMethod, &structpb.Struct{}, out))
	assert.Equal(t, []any{"rsi-threshold", "sma-cross"}, out.AsMap()["strategies"])
}

func TestGRPCErrorCodes(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, defaultProvider())
	conn := dialBufconn(t, f.svc)
	err := conn.Invoke(ctx, RunMethod, mustStruct(t, map[string]any{
		"symbol": "AAPL", "strategy": "rsi-threshold",
		"params": map[string]any{"oversold_threshold": 80, "overbought_threshold": 20},
	}), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	perr := &pricing.ProviderError{Provider: "alpaca", Symbol: "AAPL", Err: errors.New("timeout")}
	f = newFixture(t, &mapProvider{err: perr})
	conn = dialBufconn(t, f.svc)
	err = conn.Invoke(ctx, RunMethod, mustStruct(t, map[string]any{"symbol": "AAPL", "strategy": "sma-cross"}), new(structpb.Struct))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestServerServeAndShutdown(t *testing.T) {
	f := newFixture(t, defaultProvider())
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/api/strategies", httpLn.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sma-cross")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
