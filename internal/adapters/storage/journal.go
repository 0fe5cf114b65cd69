package storage

// journal.go: histórico append-only en SQLite.
//
//   - `trades`: una fila por fill confirmado (compra o venta).
//   - `alerts`: alertas al operador, incluidas las de reconciliación.
//   - `cycles`: resumen ligero por tick.
//   - Prune automático al arrancar: cycles > 30d. Trades y alerts se conservan.
//
// El ledger nunca lee de aquí para decidir; es solo para reporting.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/splitbot/internal/domain"
	"github.com/alejandrodnm/splitbot/internal/id"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS trades (
    id           TEXT PRIMARY KEY,
    code         TEXT    NOT NULL,
    slot         INTEGER NOT NULL,
    side         TEXT    NOT NULL,
    qty          INTEGER NOT NULL,
    price        REAL    NOT NULL,
    order_id     TEXT,
    reason       TEXT,
    score        REAL    NOT NULL DEFAULT 0,
    realized_pnl REAL    NOT NULL DEFAULT 0,
    at           TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
    id      TEXT PRIMARY KEY,
    level   TEXT NOT NULL,
    code    TEXT,
    kind    TEXT NOT NULL,
    message TEXT NOT NULL,
    at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id           TEXT PRIMARY KEY,
    started_at   TEXT    NOT NULL,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    budget       REAL    NOT NULL DEFAULT 0,
    entries      INTEGER NOT NULL DEFAULT 0,
    exits        INTEGER NOT NULL DEFAULT 0,
    errors       INTEGER NOT NULL DEFAULT 0,
    market_open  INTEGER NOT NULL DEFAULT 0,
    realized_pnl REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_at  ON trades(at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_code ON trades(code);
CREATE INDEX IF NOT EXISTS idx_cycles_at  ON cycles(started_at DESC);
`

const retentionCycles = 30 * 24 * time.Hour

// timeLayout is fixed-width so text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal implementa ports.Journal usando SQLite (pure Go, sin CGo).
type Journal struct {
	db *sql.DB
}

// NewJournal abre (o crea) la base de datos en dsn y aplica el schema.
func NewJournal(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewJournal: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewJournal: apply schema: %w", err)
	}

	j := &Journal{db: db}
	j.pruneOld(context.Background())
	return j, nil
}

// RecordTrade appends a confirmed fill. An empty ID is minted from ev.At.
func (j *Journal) RecordTrade(ctx context.Context, ev domain.TradeEvent) error {
	if ev.ID == "" {
		ev.ID = id.New(ev.At)
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, code, slot, side, qty, price, order_id, reason, score, realized_pnl, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Code, ev.Slot, string(ev.Side), ev.Quantity, ev.Price, ev.OrderID,
		string(ev.Reason), ev.Score, ev.RealizedPnL, ev.At.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storage.RecordTrade: insert %s: %w", ev.Code, err)
	}
	return nil
}

// RecordAlert appends an operator alert.
func (j *Journal) RecordAlert(ctx context.Context, a domain.Alert) error {
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO alerts (id, level, code, kind, message, at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.New(a.At), string(a.Level), a.Code, a.Kind.String(), a.Message, a.At.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storage.RecordAlert: insert: %w", err)
	}
	return nil
}

// RecordCycle appends the summary of one tick.
func (j *Journal) RecordCycle(ctx context.Context, s domain.CycleSummary) error {
	open := 0
	if s.MarketOpen {
		open = 1
	}
	if _, err := j.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, duration_ms, budget, entries, exits, errors, market_open, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.New(s.StartedAt), s.StartedAt.UTC().Format(timeLayout), s.Duration.Milliseconds(),
		s.Budget, s.Entries, s.Exits, s.Errors, open, s.RealizedPnL,
	); err != nil {
		return fmt.Errorf("storage.RecordCycle: insert: %w", err)
	}
	return nil
}

// Trades devuelve los fills desde since, más recientes primero.
func (j *Journal) Trades(ctx context.Context, since time.Time, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, code, slot, side, qty, price, order_id, reason, score, realized_pnl, at
		FROM trades
		WHERE at >= ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, since.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Trades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		var ev domain.TradeEvent
		var side, reason, at string
		var orderID sql.NullString
		if err := rows.Scan(
			&ev.ID, &ev.Code, &ev.Slot, &side, &ev.Quantity, &ev.Price,
			&orderID, &reason, &ev.Score, &ev.RealizedPnL, &at,
		); err != nil {
			return nil, fmt.Errorf("storage.Trades: scan row: %w", err)
		}
		ev.Side = domain.Side(side)
		ev.Reason = domain.ExitReason(reason)
		ev.OrderID = orderID.String
		ev.At, _ = time.Parse(timeLayout, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (j *Journal) Close() error {
	return j.db.Close()
}

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
func (j *Journal) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionCycles).Format(timeLayout)
	j.db.ExecContext(ctx, `DELETE FROM cycles WHERE started_at < ?`, cutoff)
}
