// Package pricing implements the price-history providers consumed by the
// backtest engine: the local bar stores, the Alpaca market-data API and a
// Redis read-through cache.
package pricing

import (
	"context"
	"fmt"
	"time"

	"quantdesk/internal/domain"
	"quantdesk/internal/store"
)

// ProviderError reports a failure fetching price history. Callers receive
// it unchanged from the engine and decide on their own retry policy.
type ProviderError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreProvider serves bars from a local BarStore.
type StoreProvider struct {
	store  store.BarStore
	market domain.Market
	name   string
}

// NewStoreProvider reads bars of the given market from s. name labels the
// provider in errors ("parquet", "sqlite").
func NewStoreProvider(name string, s store.BarStore, market domain.Market) *StoreProvider {
	return &StoreProvider{store: s, market: market, name: name}
}

// GetPriceHistory returns the stored bars within [start, end].
func (p *StoreProvider) GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := p.store.ReadBars(ctx, symbol, string(p.market), start, end)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Symbol: symbol, Err: err}
	}
	return domain.NormalizeBars(bars), nil
}
