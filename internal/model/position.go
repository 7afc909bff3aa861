package model

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Mode distinguishes real-money positions from simulated ones.
type Mode string

const (
	ModeLive  Mode = "live"
	ModePaper Mode = "paper"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is one open (or closed) position. Created only by a confirmed
// fill; quantity changes only through fills or an explicit close. Ticks
// never mutate a Position — they only feed the P&L calculator.
// Invariant: Qty > 0 while Status == open. At most one Position per
// (instrument, mode) is open at a time.
type Position struct {
	ID         string         `json:"id"`
	Instrument Instrument     `json:"instrument"`
	Side       Side           `json:"side"`
	Qty        int64          `json:"qty"`       // lots, always > 0 while open
	AvgPrice   int64          `json:"avg_price"` // paise, volume-weighted entry
	OpenedAt   time.Time      `json:"opened_at"`
	Mode       Mode           `json:"mode"`
	Status     PositionStatus `json:"status"`
}

// Key returns the netting key: "exchange:token:mode".
func (p *Position) Key() string {
	return PositionKey(&p.Instrument, p.Mode)
}

// PositionKey builds the netting key for an (instrument, mode) pair.
func PositionKey(inst *Instrument, mode Mode) string {
	return inst.Key() + ":" + string(mode)
}

// PnLSnapshot is the derived, recomputable unrealized P&L of one position
// at a given price. Never persisted as source of truth.
type PnLSnapshot struct {
	PositionID  string    `json:"position_id"`
	Unrealized  int64     `json:"unrealized"` // paise, signed
	LastPrice   int64     `json:"last_price"` // paise, price used for evaluation
	EvaluatedAt time.Time `json:"evaluated_at"`
}
