package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quantdesk/internal/engine"
	"quantdesk/internal/pricing"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/util"
)

// RunRequest is the transport-neutral form of a backtest request shared by
// the HTTP and gRPC front ends.
type RunRequest struct {
	Symbol      string
	Strategy    string
	Params      strategy.Params
	Start       string
	End         string
	InitialCash float64
}

// RunReply is a completed run. Result is nil when the provider had no data.
type RunReply struct {
	RunID  string
	Result *engine.Result
}

// Service builds strategies from a registry, runs them on the engine and
// persists the outcome.
type Service struct {
	engine   *engine.Engine
	registry *strategy.Registry
	results  store.ResultStore
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. results may be nil, in which case runs are
// not persisted and the history endpoint is disabled.
func NewService(eng *engine.Engine, registry *strategy.Registry, results store.ResultStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		engine:   eng,
		registry: registry,
		results:  results,
		log:      log,
		now:      time.Now,
	}
}

// Strategies lists the registered strategy names.
func (s *Service) Strategies() []string { return s.registry.List() }

// Run executes one backtest.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunReply, error) {
	if req.Strategy == "" {
		return RunReply{}, fmt.Errorf("%w: strategy is required", engine.ErrInvalidRequest)
	}
	strat, err := s.registry.New(req.Strategy, req.Params)
	if err != nil {
		return RunReply{}, err
	}
	start, err := util.ParseDate(req.Start)
	if err != nil {
		return RunReply{}, fmt.Errorf("%w: start: %v", engine.ErrInvalidRequest, err)
	}
	end, err := util.ParseDate(req.End)
	if err != nil {
		return RunReply{}, fmt.Errorf("%w: end: %v", engine.ErrInvalidRequest, err)
	}

	res, err := s.engine.RunBacktest(ctx, engine.Request{
		Symbol:      req.Symbol,
		Strategy:    strat,
		Start:       start,
		End:         end,
		InitialCash: req.InitialCash,
	})
	if err != nil || res == nil {
		return RunReply{}, err
	}

	reply := RunReply{Result: res}
	if s.results == nil {
		return reply, nil
	}
	rec := store.NewRunRecord(res, req.Params, s.now())
	if err := s.results.SaveResult(ctx, rec); err != nil {
		s.log.Warn("saving backtest run", "symbol", res.Symbol, "strategy", res.StrategyName, "error", err)
		return reply, nil
	}
	reply.RunID = rec.ID
	return reply, nil
}

// History returns persisted runs for symbol, newest first.
func (s *Service) History(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error) {
	if s.results == nil {
		return nil, errHistoryDisabled
	}
	return s.results.ListResults(ctx, symbol, limit)
}

var errHistoryDisabled = errors.New("run history is not configured")

// isBadRequest reports errors caused by the caller's input.
func isBadRequest(err error) bool {
	return errors.Is(err, strategy.ErrInvalidParameter) ||
		errors.Is(err, strategy.ErrUnknownStrategy) ||
		errors.Is(err, engine.ErrInvalidRequest) ||
		errors.Is(err, engine.ErrNilStrategy)
}

// isUpstream reports price provider failures.
func isUpstream(err error) bool {
	var pe *pricing.ProviderError
	return errors.As(err, &pe)
}

// reportFields is the flat payload returned for a run.
func reportFields(symbol string, reply RunReply) map[string]any {
	if reply.Result == nil {
		return map[string]any{"symbol": symbol, "status": StatusInsufficientData}
	}
	fields := reply.Result.Fields()
	fields["status"] = StatusOK
	if reply.RunID != "" {
		fields["run_id"] = reply.RunID
	}
	return fields
}

// Report statuses.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
)
