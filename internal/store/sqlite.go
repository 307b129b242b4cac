package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quantdesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BarStore = (*SQLiteStore)(nil)
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements BarStore and ResultStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		market      TEXT    NOT NULL,
		symbol      TEXT    NOT NULL,
		ts          INTEGER NOT NULL,
		open        REAL    NOT NULL,
		high        REAL    NOT NULL,
		low         REAL    NOT NULL,
		close       REAL    NOT NULL,
		volume      INTEGER NOT NULL DEFAULT 0,
		trade_count INTEGER NOT NULL DEFAULT 0,
		vwap        REAL    NOT NULL DEFAULT 0,
		PRIMARY KEY (market, symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id           TEXT    PRIMARY KEY,
		symbol       TEXT    NOT NULL,
		strategy     TEXT    NOT NULL,
		params       TEXT    NOT NULL,
		created_at   INTEGER NOT NULL,
		total_return REAL    NOT NULL,
		sharpe_ratio REAL    NOT NULL,
		max_drawdown REAL    NOT NULL,
		total_trades INTEGER NOT NULL,
		final_value  REAL    NOT NULL,
		result       TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs (symbol, created_at DESC)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteBars upserts bars in a single transaction.
func (s *SQLiteStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (market, symbol, ts, open, high, low, close, volume, trade_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, market, strings.ToUpper(b.Symbol), b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP); err != nil {
			return fmt.Errorf("insert bar %s@%s: %w", b.Symbol, b.Timestamp.Format(time.DateOnly), err)
		}
	}
	return tx.Commit()
}

// ReadBars returns bars for symbol within [start, end] ordered by time.
func (s *SQLiteStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, trade_count, vwap
		FROM bars
		WHERE market = ? AND symbol = ? AND ts BETWEEN ? AND ?
		ORDER BY ts`,
		market, strings.ToUpper(symbol), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			b  domain.Bar
			ts int64
		)
		if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSymbols returns the distinct symbols stored for market.
func (s *SQLiteStore) ListSymbols(ctx context.Context, market string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars WHERE market = ? ORDER BY symbol`, market)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SaveResult inserts a run record.
func (s *SQLiteStore) SaveResult(ctx context.Context, rec RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	params, err := encodeJSON(rec.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	result, err := encodeJSON(rec.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, symbol, strategy, params, created_at, total_return, sharpe_ratio, max_drawdown, total_trades, final_value, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Strategy, params, rec.CreatedAt.UnixMilli(),
		rec.TotalReturn, rec.SharpeRatio, rec.MaxDrawdown, rec.TotalTrades, rec.FinalValue, result)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

// ListResults returns up to limit runs for symbol, newest first. A
// non-positive limit means 50.
func (s *SQLiteStore) ListResults(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, strategy, params, created_at, total_return, sharpe_ratio, max_drawdown, total_trades, final_value, result
		FROM backtest_runs
		WHERE symbol = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec            RunRecord
			params, result string
			created        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Strategy, &params, &created,
			&rec.TotalReturn, &rec.SharpeRatio, &rec.MaxDrawdown, &rec.TotalTrades, &rec.FinalValue, &result); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, fmt.Errorf("decode params of run %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of run %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
