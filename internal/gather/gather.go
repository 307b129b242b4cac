// Package gather imports daily bars from a remote price source into the
// local bar store so backtests can run offline.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quantdesk/internal/domain"
	"quantdesk/internal/store"
)

// Source fetches daily bars for one symbol within [start, end].
type Source interface {
	GetPriceHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SymbolResult is the outcome of importing one symbol.
type SymbolResult struct {
	Symbol string
	Bars   int
	// Skipped is set for symbols that returned no data on an earlier run
	// over the same end date.
	Skipped bool
	Err     error
}

// Importer copies bars from a Source into a BarStore with a bounded number
// of concurrent symbol fetches.
type Importer struct {
	source  Source
	store   store.BarStore
	market  domain.Market
	workers int
	// progressDir holds the .tried-empty and .last-completed files; empty
	// disables progress tracking.
	progressDir string
	onImported  func(ctx context.Context, symbol string)
	log         *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithProgressDir enables resumable imports tracked under dir.
func WithProgressDir(dir string) Option {
	return func(im *Importer) { im.progressDir = dir }
}

// WithOnImported registers a hook called after each symbol is stored.
func WithOnImported(fn func(ctx context.Context, symbol string)) Option {
	return func(im *Importer) { im.onImported = fn }
}

// NewImporter creates an Importer. workers < 1 means 1.
func NewImporter(source Source, s store.BarStore, market domain.Market, workers int, opts ...Option) *Importer {
	if workers < 1 {
		workers = 1
	}
	im := &Importer{
		source:  source,
		store:   s,
		market:  market,
		workers: workers,
		log:     slog.Default().With("component", "gather", "market", string(market)),
	}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Import fetches and stores every symbol over r. Per-symbol failures are
// reported in the results, which follow the order of symbols; the returned
// error is set only when the import as a whole could not run.
func (im *Importer) Import(ctx context.Context, symbols []string, r DateRange) ([]SymbolResult, error) {
	symbols = NormalizeSymbols(symbols)
	endDate := r.End.UTC().Format(time.DateOnly)

	var tracker *progressTracker
	if im.progressDir != "" {
		var err error
		tracker, err = newProgressTracker(im.progressDir)
		if err != nil {
			return nil, fmt.Errorf("creating progress tracker: %w", err)
		}
		defer tracker.Close()

		// A new end date makes earlier empty answers stale.
		if last := tracker.LastCompleted(); last != "" && last != endDate {
			if err := tracker.Reset(); err != nil {
				return nil, fmt.Errorf("resetting tracker: %w", err)
			}
		}
	}

	results := make([]SymbolResult, len(symbols))
	var (
		mu    sync.Mutex
		empty []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, sym := range symbols {
		results[i].Symbol = sym
		if tracker != nil && tracker.IsTriedEmpty(sym) {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			n, err := im.importSymbol(gctx, sym, r)
			results[i].Bars = n
			results[i].Err = err
			if err == nil && n == 0 {
				mu.Lock()
				empty = append(empty, sym)
				mu.Unlock()
			}
			// Only cancellation stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if tracker != nil {
		if err := tracker.MarkEmpty(empty); err != nil {
			return results, err
		}
		if err := tracker.MarkCompleted(endDate); err != nil {
			return results, fmt.Errorf("marking completed: %w", err)
		}
	}
	return results, nil
}

func (im *Importer) importSymbol(ctx context.Context, symbol string, r DateRange) (int, error) {
	bars, err := im.source.GetPriceHistory(ctx, symbol, r.Start, r.End)
	if err != nil {
		im.log.Warn("fetching bars failed", "symbol", symbol, "error", err)
		return 0, err
	}
	if len(bars) == 0 {
		im.log.Debug("no bars", "symbol", symbol)
		return 0, nil
	}
	for i := range bars {
		bars[i].Symbol = symbol
	}
	if err := im.store.WriteBars(ctx, string(im.market), bars); err != nil {
		return 0, fmt.Errorf("storing %s: %w", symbol, err)
	}
	if im.onImported != nil {
		im.onImported(ctx, symbol)
	}
	im.log.Info("imported bars", "symbol", symbol, "bars", len(bars))
	return len(bars), nil
}

// NormalizeSymbols upper-cases, trims and deduplicates symbols, keeping
// first-seen order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
