// Package orders is the single entry point for trade intents. The
// coordinator routes each intent to an execution venue (live broker
// adapter or paper simulator), tracks its state machine
// (Requested → Routed → Filled | Rejected | Cancelled) and applies the
// resulting fill to the position book exactly once per intent.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/positions"
)

var (
	// ErrAlreadyCompleted is returned when cancelling an intent that has
	// already filled, rejected, or been cancelled.
	ErrAlreadyCompleted = errors.New("order already completed")

	// ErrUnknownOrder is returned for operations on an order id the
	// coordinator never issued.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrNoVenue is returned when no venue is wired for the intent's mode.
	ErrNoVenue = errors.New("no execution venue for mode")
)

// order is the tracked state of one intent. Completion is guarded by mu so
// a late or duplicated venue callback can never apply twice.
type order struct {
	mu     sync.Mutex
	update model.OrderUpdate
	done   bool
	cancel context.CancelFunc
	timer  *time.Timer // live-order timeout, nil for paper
}

// Coordinator routes intents and owns the order-id space.
type Coordinator struct {
	book    *positions.Book
	venues  map[model.Mode]model.ExecutionVenue
	timeout time.Duration // live orders: fill-or-reject window, 0 = no timeout

	mu     sync.RWMutex
	orders map[string]*order
	seq    atomic.Int64

	// OnUpdate observes every order state transition (optional).
	OnUpdate func(model.OrderUpdate)

	// OnDuplicateCompletion counts duplicate venue callbacks (optional
	// metrics hook). Duplicates are logged and dropped, never applied.
	OnDuplicateCompletion func(orderID string)

	// Journal, when set, records each applied fill together with the
	// realized P&L it produced (optional).
	Journal model.FillJournal
}

// NewCoordinator creates a Coordinator applying fills to book. timeout
// bounds how long a live order may stay unconfirmed before it is marked
// Rejected(timeout); paper orders complete on the simulator's own clock.
func NewCoordinator(book *positions.Book, venues map[model.Mode]model.ExecutionVenue, timeout time.Duration) *Coordinator {
	return &Coordinator{
		book:    book,
		venues:  venues,
		timeout: timeout,
		orders:  make(map[string]*order),
	}
}

// Submit registers a trade intent and routes it to the venue for its mode.
// It returns the order id immediately; completion arrives asynchronously
// through the OnUpdate feed. Submit itself fails only for malformed
// intents or a missing venue — a venue refusal after routing surfaces as a
// Rejected update instead.
func (c *Coordinator) Submit(ctx context.Context, inst model.Instrument, txType model.TransactionType, qty int64, mode model.Mode) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("submit: qty must be positive, got %d", qty)
	}
	venue, ok := c.venues[mode]
	if !ok {
		return "", fmt.Errorf("submit %s: %w", mode, ErrNoVenue)
	}

	id := fmt.Sprintf("ORD-%d", c.seq.Add(1))
	orderCtx, cancel := context.WithCancel(ctx)

	o := &order{
		cancel: cancel,
		update: model.OrderUpdate{
			OrderID:    id,
			Instrument: inst,
			Type:       txType,
			Qty:        qty,
			Mode:       mode,
			State:      model.OrderRequested,
			UpdatedAt:  time.Now().UTC(),
		},
	}
	c.mu.Lock()
	c.orders[id] = o
	c.mu.Unlock()
	c.emit(o.update)

	c.transition(o, model.OrderRouted, 0, "")

	req := model.OrderRequest{OrderID: id, Instrument: inst, Type: txType, Qty: qty, Mode: mode}
	if err := venue.Place(orderCtx, req, func(res model.ExecutionResult) {
		c.complete(id, res)
	}); err != nil {
		// The venue refused the order outright (e.g. no quote yet).
		c.complete(id, model.ExecutionResult{Reject: &model.RejectEvent{
			OrderID:    id,
			Reason:     err.Error(),
			RejectedAt: time.Now().UTC(),
		}})
		return id, nil
	}

	if mode == model.ModeLive && c.timeout > 0 {
		o.mu.Lock()
		if !o.done {
			o.timer = time.AfterFunc(c.timeout, func() {
				c.complete(id, model.ExecutionResult{Reject: &model.RejectEvent{
					OrderID:    id,
					Reason:     fmt.Sprintf("timeout: no venue response within %v", c.timeout),
					RejectedAt: time.Now().UTC(),
				}})
			})
		}
		o.mu.Unlock()
	}

	return id, nil
}

// SubmitExit routes an intent that flattens pos: an order on the
// opposite side of the position's entry, for the full open quantity.
// The exit fills through the normal venue path, so the book nets it
// like any other opposing fill.
func (c *Coordinator) SubmitExit(ctx context.Context, pos model.Position) (string, error) {
	entry := model.TransactionBuy
	if pos.Side == model.SideShort {
		entry = model.TransactionSell
	}
	return c.Submit(ctx, pos.Instrument, entry.Opposite(), pos.Qty, pos.Mode)
}

// Cancel withdraws an intent that has not completed yet. After completion
// it is a no-op returning ErrAlreadyCompleted.
func (c *Coordinator) Cancel(orderID string) error {
	o, ok := c.get(orderID)
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
	}

	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", orderID, ErrAlreadyCompleted)
	}
	o.done = true
	o.cancel()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.update.State = model.OrderCancelled
	o.update.UpdatedAt = time.Now().UTC()
	update := o.update
	o.mu.Unlock()

	c.emit(update)
	return nil
}

// Get returns the current state of an order.
func (c *Coordinator) Get(orderID string) (model.OrderUpdate, bool) {
	o, ok := c.get(orderID)
	if !ok {
		return model.OrderUpdate{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.update, true
}

// Pending returns all orders that have not reached a terminal state.
func (c *Coordinator) Pending() []model.OrderUpdate {
	c.mu.RLock()
	all := make([]*order, 0, len(c.orders))
	for _, o := range c.orders {
		all = append(all, o)
	}
	c.mu.RUnlock()

	out := make([]model.OrderUpdate, 0, len(all))
	for _, o := range all {
		o.mu.Lock()
		if !o.update.State.Terminal() {
			out = append(out, o.update)
		}
		o.mu.Unlock()
	}
	return out
}

// complete applies a venue result exactly once. A second completion for
// the same order is counted, logged, and dropped.
func (c *Coordinator) complete(orderID string, res model.ExecutionResult) {
	o, ok := c.get(orderID)
	if !ok {
		log.Printf("[orders] completion for unknown order %s, dropped", orderID)
		return
	}

	o.mu.Lock()
	if o.done {
		cancelled := o.update.State == model.OrderCancelled
		o.mu.Unlock()
		if cancelled {
			// A venue callback racing a Cancel is expected: the intent was
			// withdrawn while in flight. Not an anomaly.
			log.Printf("[orders] late completion for cancelled %s, dropped", orderID)
			return
		}
		log.Printf("[orders] duplicate completion for %s, dropped", orderID)
		if c.OnDuplicateCompletion != nil {
			c.OnDuplicateCompletion(orderID)
		}
		return
	}
	o.done = true
	if o.timer != nil {
		o.timer.Stop()
	}
	update := o.update
	o.mu.Unlock()

	switch {
	case res.Fill != nil:
		fill := res.Fill
		// Exactly-once position mutation, in confirmation order.
		_, realized, err := c.book.ApplyFill(update.Instrument, update.Type, fill.Qty, fill.Price, update.Mode)
		if err != nil {
			log.Printf("[orders] fill %s could not be applied: %v", orderID, err)
		}
		update.State = model.OrderFilled
		update.FillPrice = fill.Price
		update.UpdatedAt = fill.FilledAt
		if c.Journal != nil && err == nil {
			if jerr := c.Journal.RecordFill(update, realized); jerr != nil {
				log.Printf("[orders] journal write for %s failed: %v", orderID, jerr)
			}
		}

	case res.Reject != nil:
		update.State = model.OrderRejected
		update.Reason = res.Reject.Reason
		update.UpdatedAt = res.Reject.RejectedAt

	default:
		log.Printf("[orders] empty completion for %s, treating as reject", orderID)
		update.State = model.OrderRejected
		update.Reason = "venue returned empty result"
		update.UpdatedAt = time.Now().UTC()
	}

	o.mu.Lock()
	o.update = update
	o.mu.Unlock()

	c.emit(update)
}

// transition moves an order to a non-terminal state and emits the update.
func (c *Coordinator) transition(o *order, state model.OrderState, fillPrice int64, reason string) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.update.State = state
	o.update.FillPrice = fillPrice
	o.update.Reason = reason
	o.update.UpdatedAt = time.Now().UTC()
	update := o.update
	o.mu.Unlock()

	c.emit(update)
}

func (c *Coordinator) get(orderID string) (*order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[orderID]
	return o, ok
}

func (c *Coordinator) emit(update model.OrderUpdate) {
	if c.OnUpdate != nil {
		c.OnUpdate(update)
	}
}
