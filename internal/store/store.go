// Package store defines storage interfaces for daily bars and backtest run
// history, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"quantdesk/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market, replacing
	// bars that share a symbol and timestamp.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists completed backtest runs for later reporting.
type ResultStore interface {
	// SaveResult inserts a run record.
	SaveResult(ctx context.Context, rec RunRecord) error

	// ListResults returns the most recent runs for a symbol, newest first,
	// up to limit.
	ListResults(ctx context.Context, symbol string, limit int) ([]RunRecord, error)
}
