package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists trades and decisions to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so report generation can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id          TEXT PRIMARY KEY,
			security_id TEXT NOT NULL,
			name        TEXT,
			side        TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			price       REAL NOT NULL,
			trigger     TEXT,
			pnl_pct     REAL,
			executed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_executed ON trades(executed_at)`,

		`CREATE TABLE IF NOT EXISTS decisions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			security_id TEXT NOT NULL,
			score       REAL NOT NULL,
			threshold   REAL NOT NULL,
			decision    TEXT NOT NULL,
			reasons     TEXT,
			decided_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_decided ON decisions(decided_at)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(ctx context.Context, t TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (id, security_id, name, side, quantity, price, trigger, pnl_pct, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SecurityID, t.Name, t.Side, t.Quantity, t.Price, t.Trigger, t.PnLPct, t.ExecutedAt.Unix())
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordDecision(ctx context.Context, d DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO decisions (security_id, score, threshold, decision, reasons, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.SecurityID, d.Score, d.Threshold, d.Decision, d.Reasons, d.DecidedAt.Unix())
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) TradesBetween(ctx context.Context, from, to time.Time) ([]TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, security_id, name, side, quantity, price, trigger, pnl_pct, executed_at
		 FROM trades WHERE executed_at >= ? AND executed_at < ? ORDER BY executed_at`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var ts int64
		if err := rows.Scan(&t.ID, &t.SecurityID, &t.Name, &t.Side, &t.Quantity,
			&t.Price, &t.Trigger, &t.PnLPct, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExecutedAt = time.Unix(ts, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
