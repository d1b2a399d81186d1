package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mlukyanov/tradecore/internal/domain"
)

// SQLiteLedger is the durable trade ledger: one row per open, updated in
// place on close, plus an append-only event log for rejections, data
// errors and emergency stops.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	ledger := &SQLiteLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		return nil, err
	}

	return ledger, nil
}

func (s *SQLiteLedger) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL DEFAULT 0,
			quantity REAL NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			exit_reason TEXT NOT NULL DEFAULT '',
			fees_paid REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			pnl_pct REAL NOT NULL DEFAULT 0,
			strategy_id TEXT NOT NULL DEFAULT '',
			closed BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at DATETIME NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteLedger) RecordOpen(ctx context.Context, rec *domain.TradeRecord) error {
	query := `INSERT INTO trades (id, symbol, side, entry_price, quantity, opened_at, fees_paid, strategy_id, closed)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Symbol, string(rec.Side), rec.EntryPrice, rec.Quantity,
		rec.OpenedAt, rec.FeesPaid, rec.StrategyID)
	return err
}

func (s *SQLiteLedger) RecordClose(ctx context.Context, rec *domain.TradeRecord) error {
	query := `UPDATE trades SET exit_price = ?, closed_at = ?, exit_reason = ?, fees_paid = ?, pnl = ?, pnl_pct = ?, closed = 1
			  WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		rec.ExitPrice, rec.ClosedAt, string(rec.ExitReason), rec.FeesPaid, rec.PnL, rec.PnLPct, rec.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Close without a matching open row: insert the full record so
		// the ledger stays complete.
		insert := `INSERT INTO trades (id, symbol, side, entry_price, exit_price, quantity, opened_at, closed_at, exit_reason, fees_paid, pnl, pnl_pct, strategy_id, closed)
				   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
		_, err = s.db.ExecContext(ctx, insert,
			rec.ID, rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExitPrice, rec.Quantity,
			rec.OpenedAt, rec.ClosedAt, string(rec.ExitReason), rec.FeesPaid, rec.PnL, rec.PnLPct, rec.StrategyID)
	}
	return err
}

func (s *SQLiteLedger) RecordEvent(ctx context.Context, ev *domain.EngineEvent) error {
	query := `INSERT INTO events (at, symbol, kind, detail) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, ev.At, ev.Symbol, ev.Kind, ev.Detail)
	return err
}

// ListTrades returns ledger rows, most recent open first. Closed-only
// filtering is the caller's concern.
func (s *SQLiteLedger) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	query := `SELECT id, symbol, side, entry_price, exit_price, quantity, opened_at, closed_at, exit_reason, fees_paid, pnl, pnl_pct, strategy_id, closed
			  FROM trades ORDER BY opened_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			rec      domain.TradeRecord
			side     string
			reason   string
			closedAt sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice, &rec.Quantity,
			&rec.OpenedAt, &closedAt, &reason, &rec.FeesPaid, &rec.PnL, &rec.PnLPct, &rec.StrategyID, &rec.Closed); err != nil {
			return nil, err
		}
		rec.Side = domain.Side(side)
		rec.ExitReason = domain.ExitReason(reason)
		if closedAt.Valid {
			rec.ClosedAt = closedAt.Time
		}
		trades = append(trades, &rec)
	}
	return trades, rows.Err()
}

// ListEvents returns logged events since the given time.
func (s *SQLiteLedger) ListEvents(ctx context.Context, since time.Time) ([]*domain.EngineEvent, error) {
	query := `SELECT at, symbol, kind, detail FROM events WHERE at >= ? ORDER BY at`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.EngineEvent
	for rows.Next() {
		var ev domain.EngineEvent
		if err := rows.Scan(&ev.At, &ev.Symbol, &ev.Kind, &ev.Detail); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
