// Package positions holds the authoritative set of open positions, real
// and paper. The book is the only writer of position lifecycle: positions
// are created, merged, reduced, flipped and closed exclusively by
// confirmed fills (plus the explicit close operation). Ticks never touch
// the book.
package positions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scalper-systemv1/internal/model"
)

// ErrPositionNotFound is returned for an exit on a nonexistent or already
// closed position.
var ErrPositionNotFound = errors.New("position not found")

// entry serializes all mutations for one (instrument, mode) key. Entries
// for different keys apply fills fully in parallel.
type entry struct {
	mu  sync.Mutex
	pos *model.Position // nil when no open position for this key
}

// Book is the position book.
type Book struct {
	mu      sync.RWMutex
	entries map[string]*entry // (instrument, mode) key → entry
	byID    map[string]string // open position id → entry key

	seq atomic.Int64

	// OnChange is invoked after every position mutation with the resulting
	// position state and the P&L realized by that mutation (optional).
	OnChange func(model.PositionEvent)
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		entries: make(map[string]*entry),
		byID:    make(map[string]string),
	}
}

// nextID mints a position id, e.g. "PAPER-7".
func (b *Book) nextID(mode model.Mode) string {
	return fmt.Sprintf("%s-%d", strings.ToUpper(string(mode)), b.seq.Add(1))
}

// getEntry returns the entry for key, creating it if needed.
func (b *Book) getEntry(key string) *entry {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e
	}
	e = &entry{}
	b.entries[key] = e
	return e
}

// ApplyFill applies one confirmed fill to the book and returns the
// resulting position together with the P&L realized by this fill (0 for
// opening or merging fills). Netting:
//
//   - no open position               → open a new one on the fill's side
//   - fill on the same side          → merge, volume-weighted entry price
//   - opposing fill, qty <  open qty → partial exit, entry price unchanged
//   - opposing fill, qty == open qty → full close
//   - opposing fill, qty >  open qty → close the old position and open a
//     new one on the opposite side with the residual at the fill price
//
// Fills for the same (instrument, mode) must be applied in the order the
// coordinator confirms them; this method is the serialization point.
func (b *Book) ApplyFill(inst model.Instrument, txType model.TransactionType, qty, price int64, mode model.Mode) (model.Position, int64, error) {
	if qty <= 0 {
		return model.Position{}, 0, fmt.Errorf("apply fill: qty must be positive, got %d", qty)
	}
	if price <= 0 {
		return model.Position{}, 0, fmt.Errorf("apply fill: price must be positive, got %d", price)
	}

	key := model.PositionKey(&inst, mode)
	e := b.getEntry(key)

	e.mu.Lock()
	result, realized, events := b.applyLocked(e, key, inst, txType, qty, price, mode)
	e.mu.Unlock()

	// Events are emitted outside the entry lock: OnChange handlers may
	// read the book (OpenPositions, Get) or block on I/O.
	b.emit(events)
	return result, realized, nil
}

// applyLocked performs the netting under the entry lock and returns the
// change events to emit once the lock is released.
func (b *Book) applyLocked(e *entry, key string, inst model.Instrument, txType model.TransactionType, qty, price int64, mode model.Mode) (model.Position, int64, []model.PositionEvent) {
	now := time.Now().UTC()

	// No open position: the fill opens one.
	if e.pos == nil {
		pos := model.Position{
			ID:         b.nextID(mode),
			Instrument: inst,
			Side:       txType.PositionSide(),
			Qty:        qty,
			AvgPrice:   price,
			OpenedAt:   now,
			Mode:       mode,
			Status:     model.PositionOpen,
		}
		e.pos = &pos
		b.index(pos.ID, key)
		return pos, 0, []model.PositionEvent{{Position: pos, At: now}}
	}

	pos := e.pos

	// Same-side fill: merge by volume-weighted average price.
	if txType.PositionSide() == pos.Side {
		totalCost := pos.AvgPrice*pos.Qty + price*qty
		pos.Qty += qty
		pos.AvgPrice = totalCost / pos.Qty
		return *pos, 0, []model.PositionEvent{{Position: *pos, At: now}}
	}

	// Opposing fill: reduce, close, or flip.
	closeQty := qty
	if closeQty > pos.Qty {
		closeQty = pos.Qty
	}
	realized := realizedPnL(pos.Side, pos.AvgPrice, price, closeQty, inst.LotSize)

	switch {
	case qty < pos.Qty:
		pos.Qty -= qty
		return *pos, realized, []model.PositionEvent{{Position: *pos, Realized: realized, At: now}}

	case qty == pos.Qty:
		closed := *pos
		closed.Qty = 0
		closed.Status = model.PositionClosed
		b.unindex(pos.ID)
		e.pos = nil
		return closed, realized, []model.PositionEvent{{Position: closed, Realized: realized, At: now}}

	default: // qty > pos.Qty: flip
		closed := *pos
		closed.Qty = 0
		closed.Status = model.PositionClosed
		b.unindex(pos.ID)

		flipped := model.Position{
			ID:         b.nextID(mode),
			Instrument: inst,
			Side:       txType.PositionSide(),
			Qty:        qty - closeQty,
			AvgPrice:   price,
			OpenedAt:   now,
			Mode:       mode,
			Status:     model.PositionOpen,
		}
		e.pos = &flipped
		b.index(flipped.ID, key)
		return flipped, realized, []model.PositionEvent{
			{Position: closed, Realized: realized, At: now},
			{Position: flipped, At: now},
		}
	}
}

// ClosePosition fully exits an open position at exitPrice and returns the
// realized P&L. Returns ErrPositionNotFound if the id is unknown or the
// position is already closed.
func (b *Book) ClosePosition(positionID string, exitPrice int64) (int64, error) {
	b.mu.RLock()
	key, ok := b.byID[positionID]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("close %s: %w", positionID, ErrPositionNotFound)
	}

	e := b.getEntry(key)
	e.mu.Lock()

	// The index may be stale if a racing fill closed the position between
	// the lookup and taking the entry lock.
	if e.pos == nil || e.pos.ID != positionID {
		e.mu.Unlock()
		return 0, fmt.Errorf("close %s: %w", positionID, ErrPositionNotFound)
	}

	pos := e.pos
	realized := realizedPnL(pos.Side, pos.AvgPrice, exitPrice, pos.Qty, pos.Instrument.LotSize)

	closed := *pos
	closed.Qty = 0
	closed.Status = model.PositionClosed
	b.unindex(pos.ID)
	e.pos = nil
	e.mu.Unlock()

	b.emit([]model.PositionEvent{{Position: closed, Realized: realized, At: time.Now().UTC()}})
	return realized, nil
}

// OpenPositions returns a read-only snapshot of all open positions.
func (b *Book) OpenPositions() []model.Position {
	b.mu.RLock()
	entries := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	out := make([]model.Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.pos != nil {
			out = append(out, *e.pos)
		}
		e.mu.Unlock()
	}
	return out
}

// Get returns the open position with the given id.
func (b *Book) Get(positionID string) (model.Position, bool) {
	b.mu.RLock()
	key, ok := b.byID[positionID]
	b.mu.RUnlock()
	if !ok {
		return model.Position{}, false
	}

	e := b.getEntry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == nil || e.pos.ID != positionID {
		return model.Position{}, false
	}
	return *e.pos, true
}

// Restore seeds the book with previously persisted open positions. Meant
// for startup only, before fills start flowing.
func (b *Book) Restore(positions []model.Position) {
	for _, pos := range positions {
		if pos.Status != model.PositionOpen || pos.Qty <= 0 {
			continue
		}
		p := pos
		key := p.Key()
		e := b.getEntry(key)
		e.mu.Lock()
		e.pos = &p
		e.mu.Unlock()
		b.index(p.ID, key)
	}
}

func (b *Book) index(id, key string) {
	b.mu.Lock()
	b.byID[id] = key
	b.mu.Unlock()
}

func (b *Book) unindex(id string) {
	b.mu.Lock()
	delete(b.byID, id)
	b.mu.Unlock()
}

func (b *Book) emit(events []model.PositionEvent) {
	if b.OnChange == nil {
		return
	}
	for _, ev := range events {
		b.OnChange(ev)
	}
}

// realizedPnL computes the signed P&L of exiting qty lots at exitPrice.
func realizedPnL(side model.Side, avgPrice, exitPrice, qty, lotSize int64) int64 {
	if side == model.SideLong {
		return (exitPrice - avgPrice) * qty * lotSize
	}
	return (avgPrice - exitPrice) * qty * lotSize
}
