// Package sqlite persists closed trades and risk snapshots. One store file
// survives restarts so loss limits and trade history are never forgotten.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signaltrader/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const snapshotsKept = 10

// Store is a single-writer SQLite store. It satisfies model.TradeLedger and
// model.SnapshotStore.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open initializes the database with WAL mode and the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol         TEXT    NOT NULL,
			side           TEXT    NOT NULL,
			entry_price    REAL    NOT NULL,
			exit_price     REAL    NOT NULL,
			quantity       REAL    NOT NULL,
			entry_ts       INTEGER NOT NULL,
			exit_ts        INTEGER NOT NULL,
			pnl            REAL    NOT NULL,
			pnl_pct        REAL    NOT NULL,
			commission     REAL    NOT NULL,
			reason         TEXT    NOT NULL,
			open_order_id  TEXT,
			close_order_id TEXT,
			open_decision  TEXT,
			close_decision TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_trades_exit_ts ON trades (exit_ts DESC);

		CREATE TABLE IF NOT EXISTS risk_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Append persists one closed trade.
func (s *Store) Append(ctx context.Context, trade model.TradeRecord) error {
	openDec, err := json.Marshal(trade.OpenDecision)
	if err != nil {
		return fmt.Errorf("marshal open decision: %w", err)
	}
	closeDec, err := json.Marshal(trade.CloseDecision)
	if err != nil {
		return fmt.Errorf("marshal close decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (symbol, side, entry_price, exit_price, quantity,
			entry_ts, exit_ts, pnl, pnl_pct, commission, reason,
			open_order_id, close_order_id, open_decision, close_decision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.EntryTime.UnixMilli(), trade.ExitTime.UnixMilli(), trade.PnL, trade.PnLPct, trade.Commission, string(trade.Reason),
		trade.OpenOrderID, trade.CloseOrderID, string(openDec), string(closeDec),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert trade: %w", err)
	}
	return nil
}

// Trades returns the last limit trades, newest first.
func (s *Store) Trades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, entry_price, exit_price, quantity,
			entry_ts, exit_ts, pnl, pnl_pct, commission, reason,
			open_order_id, close_order_id, open_decision, close_decision
		FROM trades
		ORDER BY exit_ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side, reason string
		var entryTS, exitTS int64
		var openDec, closeDec sql.NullString
		if err := rows.Scan(&t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&entryTS, &exitTS, &t.PnL, &t.PnLPct, &t.Commission, &reason,
			&t.OpenOrderID, &t.CloseOrderID, &openDec, &closeDec); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		t.Side = model.Side(side)
		t.Reason = model.CloseReason(reason)
		t.EntryTime = time.UnixMilli(entryTS).UTC()
		t.ExitTime = time.UnixMilli(exitTS).UTC()
		if openDec.Valid && openDec.String != "" {
			json.Unmarshal([]byte(openDec.String), &t.OpenDecision)
		}
		if closeDec.Valid && closeDec.String != "" {
			json.Unmarshal([]byte(closeDec.String), &t.CloseDecision)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveRiskSnapshot persists the current risk counters and prunes old rows.
func (s *Store) SaveRiskSnapshot(ctx context.Context, snap model.RiskSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO risk_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	// Prune old snapshots, keeping the most recent few.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM risk_snapshots
		WHERE id NOT IN (SELECT id FROM risk_snapshots ORDER BY id DESC LIMIT ?)
	`, snapshotsKept)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// LoadRiskSnapshot loads the most recent snapshot. ok=false when none exists.
func (s *Store) LoadRiskSnapshot(ctx context.Context) (model.RiskSnapshot, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM risk_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return model.RiskSnapshot{}, false, nil
	}
	if err != nil {
		return model.RiskSnapshot{}, false, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap model.RiskSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return model.RiskSnapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
