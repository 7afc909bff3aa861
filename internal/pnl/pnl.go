// Package pnl computes unrealized profit-and-loss for open positions.
// The calculation itself is a pure function of (position, quote); the
// engine around it only decides when to recompute and keeps a memo of the
// last emitted snapshot per position to suppress redundant updates. The
// memo is never a source of truth — every snapshot is recomputable.
package pnl

import (
	"sync"
	"time"

	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/positions"
)

// EvalPrice picks the price a position is marked at: last traded price
// when available, otherwise the bid/ask midpoint. Returns 0 when the
// quote carries no usable price.
func EvalPrice(q model.Quote) int64 {
	if q.LTP > 0 {
		return q.LTP
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return q.Ask
}

// Unrealized computes the signed unrealized P&L of a position at the given
// quote. Long: (price − entry) × qty × lot. Short: (entry − price) × qty × lot.
func Unrealized(pos model.Position, quote model.Quote) model.PnLSnapshot {
	price := EvalPrice(quote)
	snap := model.PnLSnapshot{
		PositionID:  pos.ID,
		LastPrice:   price,
		EvaluatedAt: time.Now().UTC(),
	}
	if price <= 0 || pos.Status != model.PositionOpen {
		return snap
	}
	diff := price - pos.AvgPrice
	if pos.Side == model.SideShort {
		diff = -diff
	}
	snap.Unrealized = diff * pos.Qty * pos.Instrument.LotSize
	return snap
}

// Engine recomputes P&L on every relevant tick and every position book
// mutation, and emits snapshots to an observer hook.
type Engine struct {
	book   *positions.Book
	quotes model.QuoteSource

	mu   sync.Mutex
	memo map[string]memoEntry // position id → last emitted state

	// OnUpdate is invoked whenever a position's P&L snapshot changes (optional).
	OnUpdate func(model.PnLSnapshot)
}

type memoEntry struct {
	unrealized int64
	lastPrice  int64
	qty        int64
	avgPrice   int64
}

// NewEngine creates an Engine reading quotes from the given source.
func NewEngine(book *positions.Book, quotes model.QuoteSource) *Engine {
	return &Engine{
		book:   book,
		quotes: quotes,
		memo:   make(map[string]memoEntry),
	}
}

// OnTick recomputes P&L for every open position on the tick's instrument.
func (e *Engine) OnTick(tick model.Tick) {
	key := tick.Key()
	for _, pos := range e.book.OpenPositions() {
		if pos.Instrument.Key() != key {
			continue
		}
		e.evaluate(pos, tick.Quote())
	}
}

// OnPositionChange recomputes P&L after a book mutation. Closed positions
// drop out of the memo.
func (e *Engine) OnPositionChange(ev model.PositionEvent) {
	if ev.Position.Status == model.PositionClosed {
		e.mu.Lock()
		delete(e.memo, ev.Position.ID)
		e.mu.Unlock()
		return
	}

	quote, ok := e.quotes.Quote(ev.Position.Instrument.Key())
	if !ok {
		// No tick yet for this instrument — nothing to mark against.
		return
	}
	e.evaluate(ev.Position, quote)
}

// evaluate computes the snapshot and emits it if it differs from the memo.
func (e *Engine) evaluate(pos model.Position, quote model.Quote) {
	snap := Unrealized(pos, quote)

	e.mu.Lock()
	prev, seen := e.memo[pos.ID]
	cur := memoEntry{
		unrealized: snap.Unrealized,
		lastPrice:  snap.LastPrice,
		qty:        pos.Qty,
		avgPrice:   pos.AvgPrice,
	}
	if seen && prev == cur {
		e.mu.Unlock()
		return
	}
	e.memo[pos.ID] = cur
	e.mu.Unlock()

	if e.OnUpdate != nil {
		e.OnUpdate(snap)
	}
}

// Snapshots marks every open position against the latest quotes and
// returns the result. Pull-style counterpart to the OnUpdate feed.
func (e *Engine) Snapshots() []model.PnLSnapshot {
	open := e.book.OpenPositions()
	out := make([]model.PnLSnapshot, 0, len(open))
	for _, pos := range open {
		quote, ok := e.quotes.Quote(pos.Instrument.Key())
		if !ok {
			continue
		}
		out = append(out, Unrealized(pos, quote))
	}
	return out
}

// TotalUnrealized sums unrealized P&L across all open positions.
func (e *Engine) TotalUnrealized() int64 {
	var total int64
	for _, s := range e.Snapshots() {
		total += s.Unrealized
	}
	return total
}
