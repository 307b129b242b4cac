package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"quantdesk/internal/domain"
)

// Source is any price-history provider.
type Source interface {
	GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// CachedProvider is a Redis read-through cache in front of another
// provider. Every call decodes a fresh slice, so callers never share bars.
// Cache failures are logged and bypassed; only the inner provider's errors
// are returned.
type CachedProvider struct {
	inner  Source
	client *goredis.Client
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewCachedProvider wraps inner with a cache stored in client. A
// non-positive ttl means 24h.
func NewCachedProvider(inner Source, client *goredis.Client, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		log:    slog.Default().With("provider", "redis-cache"),
		now:    time.Now,
	}
}

// CacheKey returns the Redis key for a symbol and date range.
func CacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("bars:%s:%s:%s", strings.ToUpper(symbol), start.UTC().Format(time.DateOnly), end.UTC().Format(time.DateOnly))
}

type cachedBar struct {
	T  int64   `json:"t"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  int64   `json:"v"`
	N  int64   `json:"n,omitempty"`
	VW float64 `json:"vw,omitempty"`
}

// GetPriceHistory serves from the cache when possible, otherwise from the
// inner provider. Empty results are not cached, and neither are ranges that
// reach the current UTC day, since its bar may still be forming.
func (p *CachedProvider) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	key := CacheKey(symbol, start, end)

	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		bars, derr := decodeBars(symbol, raw)
		if derr == nil {
			return bars, nil
		}
		p.log.Warn("discarding undecodable cache entry", "key", key, "error", derr)
	case errors.Is(err, goredis.Nil):
	default:
		p.log.Warn("cache read failed", "key", key, "error", err)
	}

	bars, err := p.inner.GetPriceHistory(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 || !p.settled(end) {
		return bars, nil
	}
	payload, err := encodeBars(bars)
	if err == nil {
		err = p.client.Set(ctx, key, payload, p.ttl).Err()
	}
	if err != nil {
		p.log.Warn("cache write failed", "key", key, "error", err)
	}
	return bars, nil
}

// settled reports whether end falls on a UTC day before today.
func (p *CachedProvider) settled(end time.Time) bool {
	today := p.now().UTC().Truncate(24 * time.Hour)
	return end.UTC().Before(today)
}

// Invalidate drops every cached range for symbol.
func (p *CachedProvider) Invalidate(ctx context.Context, symbol string) error {
	iter := p.client.Scan(ctx, 0, "bars:"+strings.ToUpper(symbol)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return p.client.Del(ctx, keys...).Err()
}

func encodeBars(bars []domain.Bar) ([]byte, error) {
	out := make([]cachedBar, len(bars))
	for i, b := range bars {
		out[i] = cachedBar{T: b.Timestamp.UnixMilli(), O: b.Open, H: b.High, L: b.Low, C: b.Close, V: b.Volume, N: b.TradeCount, VW: b.VWAP}
	}
	return json.Marshal(out)
}

func decodeBars(symbol string, raw []byte) ([]domain.Bar, error) {
	var in []cachedBar
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, len(in))
	for i, c := range in {
		bars[i] = domain.Bar{
			Symbol:     symbol,
			Timestamp:  time.UnixMilli(c.T).UTC(),
			Open:       c.O,
			High:       c.H,
			Low:        c.L,
			Close:      c.C,
			Volume:     c.V,
			TradeCount: c.N,
			VWAP:       c.VW,
		}
	}
	return bars, nil
}
