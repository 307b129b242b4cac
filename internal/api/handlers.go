package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantdesk/internal/strategy"
)

// Query keys consumed by the backtest endpoint. Every other key is passed
// to the strategy as a parameter.
var reservedQueryKeys = map[string]bool{
	"strategy":     true,
	"start":        true,
	"end":          true,
	"initial_cash": true,
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	backtest := http.Handler(http.HandlerFunc(s.handleBacktest))
	if s.metrics != nil {
		backtest = promhttp.InstrumentHandlerInFlight(s.metrics.InFlight, backtest)
	}
	mux.Handle("GET /api/backtest/{symbol}", backtest)
	mux.HandleFunc("GET /api/backtests/{symbol}", s.handleHistory)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.health != nil {
		mux.Handle("GET /healthz", s.health)
	}
	return corsMiddleware(mux)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"strategies": s.svc.Strategies()})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	q := r.URL.Query()

	req := RunRequest{
		Symbol:   symbol,
		Strategy: q.Get("strategy"),
		Start:    q.Get("start"),
		End:      q.Get("end"),
		Params:   strategy.Params{},
	}
	if v := q.Get("initial_cash"); v != "" {
		cash, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid initial_cash: "+v)
			return
		}
		req.InitialCash = cash
	}
	for k, vals := range q {
		if reservedQueryKeys[k] || len(vals) == 0 {
			continue
		}
		req.Params[k] = vals[0]
	}

	reply, err := s.svc.Run(r.Context(), req)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, reportFields(symbol, reply))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		limit = n
	}

	runs, err := s.svc.History(r.Context(), symbol, limit)
	if err != nil {
		if err == errHistoryDisabled {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The listing carries headline metrics only.
	for i := range runs {
		runs[i].Result = nil
	}
	writeJSON(w, map[string]any{"symbol": symbol, "runs": runs})
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case isBadRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case isUpstream(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
