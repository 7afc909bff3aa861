package model

import (
	"context"
	"time"
)

// ── Execution & storage port interfaces ──
// These interfaces decouple the engine core from concrete venues and storage
// (broker API, paper simulator, Redis, SQLite).

// ExecutionVenue accepts an order and completes it exactly once, later and
// asynchronously, by invoking done with either a fill or a reject. Place
// itself must not block on market activity; it returns an error only when
// the request is malformed or the venue cannot accept it at all.
type ExecutionVenue interface {
	Place(ctx context.Context, req OrderRequest, done func(ExecutionResult)) error
}

// QuoteSource answers the latest known quote for an instrument key
// ("exchange:token"). ok is false if no tick has arrived yet.
type QuoteSource interface {
	Quote(instrumentKey string) (Quote, bool)
}

// FillJournal records executed fills for audit and session statistics.
type FillJournal interface {
	// RecordFill persists one fill together with the realized P&L it
	// produced (0 for opening fills).
	RecordFill(update OrderUpdate, realized int64) error
	Close() error
}

// PositionStore persists and restores the position book snapshot across
// restarts. The book itself remains the source of truth while running.
type PositionStore interface {
	SavePositions(ctx context.Context, mode Mode, positions []Position) error
	LoadPositions(ctx context.Context, mode Mode) ([]Position, error)
	Close() error
}

// ── Change events (observation feed) ──

// PositionEvent announces a position book mutation.
type PositionEvent struct {
	Position Position  `json:"position"`
	Realized int64     `json:"realized"` // paise realized by this mutation, 0 if none
	At       time.Time `json:"at"`
}

// LadderEvent announces that one ladder row (or the ATM anchor) changed.
type LadderEvent struct {
	Underlying string    `json:"underlying"`
	Strike     int64     `json:"strike"` // 0 when the whole window shifted
	At         time.Time `json:"at"`
}
