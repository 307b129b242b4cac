// Package app wires configuration into the running set of stores,
// providers and the backtest engine shared by the quantdesk binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"quantdesk/internal/config"
	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/metrics"
	"quantdesk/internal/pricing"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
	"quantdesk/internal/util"
)

// Provider names accepted in backtest.provider.
const (
	ProviderParquet = "parquet"
	ProviderSQLite  = "sqlite"
	ProviderAlpaca  = "alpaca"
)

// Stack holds everything built from a Config.
type Stack struct {
	Config   *config.Config
	Market   domain.Market
	Calendar *util.TradingCalendar
	// Bars is the local bar store: the price source for the store
	// providers and the import target otherwise.
	Bars     store.BarStore
	Results  *store.SQLiteStore
	Redis    *goredis.Client
	Provider engine.PriceProvider
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Registry *strategy.Registry
	Health   *metrics.HealthStatus
}

// Build opens the stores and constructs the provider chain and engine.
// Callers must Close the returned Stack.
func Build(cfg *config.Config, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	market, err := util.ParseMarket(cfg.Backtest.Market)
	if err != nil {
		return nil, err
	}
	policy, err := engine.NewPolicy(cfg.Backtest.PositionFraction, cfg.Backtest.AllowShort, cfg.Backtest.EndOfSeries)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	sqlite, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		Config:   cfg,
		Market:   market,
		Calendar: util.NewTradingCalendar(market),
		Results:  sqlite,
		Metrics:  metrics.NewMetrics(),
		Registry: builtins.NewRegistry(),
		Health:   metrics.NewHealthStatus(),
	}

	var provider pricing.Source
	switch cfg.Backtest.Provider {
	case ProviderParquet:
		s.Bars = store.NewParquetStore(cfg.Storage.DataDir)
		provider = pricing.NewStoreProvider(ProviderParquet, s.Bars, market)
	case ProviderSQLite:
		s.Bars = sqlite
		provider = pricing.NewStoreProvider(ProviderSQLite, sqlite, market)
	case ProviderAlpaca:
		if market != domain.MarketUS {
			sqlite.Close()
			return nil, fmt.Errorf("provider alpaca serves the us market only, got %q", market)
		}
		ap, err := NewAlpaca(cfg.Alpaca)
		if err != nil {
			sqlite.Close()
			return nil, err
		}
		s.Bars = store.NewParquetStore(cfg.Storage.DataDir)
		provider = ap
	default:
		sqlite.Close()
		return nil, fmt.Errorf("unknown backtest provider %q", cfg.Backtest.Provider)
	}

	if cfg.Redis.Addr != "" {
		s.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		provider = pricing.NewCachedProvider(provider, s.Redis, cfg.Redis.TTL)
		log.Info("price cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}
	s.Provider = provider

	ppy := cfg.Backtest.PeriodsPerYear
	if ppy <= 0 {
		ppy = s.Calendar.PeriodsPerYear()
	}
	s.Engine = engine.New(provider, engine.Config{
		InitialCash:    cfg.Backtest.InitialCash,
		PeriodsPerYear: ppy,
		Policy:         policy,
	}, engine.WithLogger(log), engine.WithRecorder(s.Metrics))

	log.Info("backtest stack ready",
		"provider", cfg.Backtest.Provider,
		"market", string(market),
		"periods_per_year", ppy,
		"end_of_series", policy.EndOfSeries.String(),
		"allow_short", policy.AllowShort,
	)
	return s, nil
}

// Probe refreshes the health status once.
func (s *Stack) Probe(ctx context.Context) {
	s.Health.Probe(ctx, s.Redis, s.Results.DB())
}

// StartHealthChecks probes the backing services every interval until ctx
// is done.
func (s *Stack) StartHealthChecks(ctx context.Context, interval time.Duration) {
	s.Health.StartLivenessChecker(ctx, s.Redis, s.Results.DB(), interval)
}

// Close releases the database and Redis connections.
func (s *Stack) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.Results != nil {
		errs = append(errs, s.Results.Close())
	}
	return errors.Join(errs...)
}

// NewAlpaca builds the Alpaca market-data provider. Credentials are
// required.
func NewAlpaca(cfg config.Alpaca) (*pricing.AlpacaProvider, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("alpaca credentials are not configured (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)")
	}
	return pricing.NewAlpacaProvider(pricing.AlpacaConfig{
		APIKey:          cfg.APIKey,
		APISecret:       cfg.APISecret,
		DataURL:         cfg.DataURL,
		Feed:            cfg.Feed,
		RateLimitPerMin: cfg.RateLimitPerMin,
		MaxRetries:      cfg.MaxRetries,
	}), nil
}

// OpenLogger returns a logger writing to stdout and to a dated file under
// /tmp named after the binary. The file is closed by the returned closer.
func OpenLogger(name string, cfg config.Logging) (*slog.Logger, io.Closer, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s.log", name, time.Now().Format(util.DateLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("creating log file: %w", err)
	}
	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, f), cfg.Level, cfg.Format)
	return logger.With("log_file", path), f, nil
}
