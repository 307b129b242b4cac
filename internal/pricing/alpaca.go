package pricing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantdesk/internal/domain"
	"quantdesk/internal/util"
)

// barsClient is the part of *marketdata.Client the provider uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaConfig holds the market-data credentials and request policy.
type AlpacaConfig struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
}

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API. Requests are rate limited and transient failures
// retried with backoff.
type AlpacaProvider struct {
	client     barsClient
	feed       marketdata.Feed
	limiter    *util.RateLimiter
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider from cfg.
func NewAlpacaProvider(cfg AlpacaConfig) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), cfg)
}

func newAlpacaProvider(c barsClient, cfg AlpacaConfig) *AlpacaProvider {
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &AlpacaProvider{
		client:     c,
		feed:       marketdata.Feed(cfg.Feed),
		limiter:    util.NewRateLimiter(cfg.RateLimitPerMin),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        slog.Default().With("provider", "alpaca"),
	}
}

// GetPriceHistory returns the daily bars for symbol within [start, end].
func (p *AlpacaProvider) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	var raw []marketdata.Bar
	attempt := 0
	err := util.Retry(ctx, p.maxRetries, p.retryDelay, func() error {
		attempt++
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Adjustment("all"),
			Start:      start,
			End:        end.AddDate(0, 0, 1),
			Feed:       p.feed,
		})
		if err != nil && isPermanent(err) {
			return util.Permanent(err)
		}
		if err != nil {
			p.log.Warn("GetBars failed", "symbol", symbol, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, &ProviderError{Provider: "alpaca", Symbol: symbol, Err: err}
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		// Daily bars are stamped at midnight New York time.
		day := ab.Timestamp.UTC().Truncate(24 * time.Hour)
		if day.Before(start) || day.After(end) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  day,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return domain.NormalizeBars(bars), nil
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"forbidden", "unauthorized", "invalid symbol", "not found", "422"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
