// Package journal persists executed fills to SQLite for audit and
// session statistics. Every fill is written exactly once, in the order
// the coordinator confirmed it.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scalper-systemv1/internal/model"
)

// Journal is a SQLite-backed fill journal. It implements model.FillJournal.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		mode        TEXT NOT NULL,
		type        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		token       TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       INTEGER NOT NULL,
		realized    INTEGER DEFAULT 0,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_mode ON fills(mode);
	CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(token, exchange);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB exposes the underlying handle for liveness probes.
func (j *Journal) DB() *sql.DB { return j.db }

// RecordFill persists one confirmed fill and the realized P&L it produced.
func (j *Journal) RecordFill(update model.OrderUpdate, realized int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, mode, type, symbol, token, exchange, qty, price, realized, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		update.OrderID,
		string(update.Mode),
		string(update.Type),
		update.Instrument.TradingSymbol,
		update.Instrument.Token,
		update.Instrument.Exchange,
		update.Qty,
		update.FillPrice,
		realized,
		update.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// FillRecord represents a row from the fills table.
type FillRecord struct {
	ID       int64  `json:"id"`
	OrderID  string `json:"order_id"`
	Mode     string `json:"mode"`
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	Qty      int64  `json:"qty"`
	Price    int64  `json:"price"`
	Realized int64  `json:"realized"`
	FilledAt string `json:"filled_at"`
}

// RecentFills returns the last N fills, newest first.
func (j *Journal) RecentFills(limit int) ([]FillRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, mode, type, symbol, token, exchange, qty, price, realized, filled_at
		 FROM fills ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Mode, &f.Type, &f.Symbol, &f.Token,
			&f.Exchange, &f.Qty, &f.Price, &f.Realized, &f.FilledAt); err != nil {
			continue
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// DayStats summarises one trading day's fills for a mode.
type DayStats struct {
	Mode     string `json:"mode"`
	Fills    int64  `json:"fills"`
	Realized int64  `json:"realized"` // paise, closing fills only
	Wins     int64  `json:"wins"`
	Losses   int64  `json:"losses"`
}

// StatsForDay aggregates fills whose filled_at falls on the given day (UTC).
func (j *Journal) StatsForDay(mode model.Mode, day time.Time) (DayStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	stats := DayStats{Mode: string(mode)}
	err := j.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(realized), 0),
		        COALESCE(SUM(CASE WHEN realized > 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN realized < 0 THEN 1 ELSE 0 END), 0)
		 FROM fills WHERE mode = ? AND filled_at >= ? AND filled_at < ?`,
		string(mode), start.Format(time.RFC3339), end.Format(time.RFC3339),
	).Scan(&stats.Fills, &stats.Realized, &stats.Wins, &stats.Losses)
	return stats, err
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
