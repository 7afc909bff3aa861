package model

import "time"

// TransactionType is the direction of a trade intent or fill.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// PositionSide maps a fill direction to the side of the position it opens.
func (t TransactionType) PositionSide() Side {
	if t == TransactionBuy {
		return SideLong
	}
	return SideShort
}

// Opposite returns the other direction.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionBuy {
		return TransactionSell
	}
	return TransactionBuy
}

// OrderState is the per-intent state machine:
// Requested → Routed → Filled | Rejected | Cancelled.
type OrderState string

const (
	OrderRequested OrderState = "REQUESTED"
	OrderRouted    OrderState = "ROUTED"
	OrderFilled    OrderState = "FILLED"
	OrderRejected  OrderState = "REJECTED"
	OrderCancelled OrderState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// OrderRequest is a trade intent handed to an execution venue.
type OrderRequest struct {
	OrderID    string          `json:"order_id"`
	Instrument Instrument      `json:"instrument"`
	Type       TransactionType `json:"type"`
	Qty        int64           `json:"qty"` // lots
	Mode       Mode            `json:"mode"`
}

// FillEvent is a confirmed execution.
type FillEvent struct {
	OrderID  string    `json:"order_id"`
	Price    int64     `json:"price"` // paise, actual fill price
	Qty      int64     `json:"qty"`   // lots
	Slippage int64     `json:"slippage"`
	FilledAt time.Time `json:"filled_at"`
}

// RejectEvent is a declined execution. No position state changed.
type RejectEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}

// ExecutionResult is the closed outcome variant of an order: exactly one
// of Fill or Reject is set.
type ExecutionResult struct {
	Fill   *FillEvent
	Reject *RejectEvent
}

// OrderCommand is a terminal-issued instruction, carried over the Redis
// command channel from the gateway process to the engine.
type OrderCommand struct {
	Action        string          `json:"action"` // "place", "exit" or "cancel"
	ReqID         string          `json:"req_id,omitempty"`
	InstrumentKey string          `json:"instrument_key,omitempty"` // "exchange:token", place only
	Type          TransactionType `json:"type,omitempty"`           // place only
	Qty           int64           `json:"qty,omitempty"`            // lots, place only
	Mode          Mode            `json:"mode,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`    // cancel target
	PositionID    string          `json:"position_id,omitempty"` // exit target
}

// OrderUpdate is the observable record of one intent's progress, emitted
// on every state transition.
type OrderUpdate struct {
	OrderID    string          `json:"order_id"`
	Instrument Instrument      `json:"instrument"`
	Type       TransactionType `json:"type"`
	Qty        int64           `json:"qty"`
	Mode       Mode            `json:"mode"`
	State      OrderState      `json:"state"`
	FillPrice  int64           `json:"fill_price,omitempty"` // paise, set when filled
	Reason     string          `json:"reason,omitempty"`     // set when rejected
	UpdatedAt  time.Time       `json:"updated_at"`
}
