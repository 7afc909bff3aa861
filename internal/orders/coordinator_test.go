package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/positions"
)

func testInstrument() model.Instrument {
	return model.Instrument{
		Token:         "NIFTY26AUG24500CE",
		Exchange:      "NFO",
		TradingSymbol: "NIFTY26AUG24500CE",
		Underlying:    "NIFTY",
		Kind:          model.KindCall,
		Strike:        2450000,
		Expiry:        time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		LotSize:       25,
		TickSize:      5,
	}
}

// manualVenue captures the completion callback so tests control when, and
// how many times, the venue reports back.
type manualVenue struct {
	mu       sync.Mutex
	done     map[string]func(model.ExecutionResult)
	placeErr error
}

func newManualVenue() *manualVenue {
	return &manualVenue{done: make(map[string]func(model.ExecutionResult))}
}

func (v *manualVenue) Place(_ context.Context, req model.OrderRequest, done func(model.ExecutionResult)) error {
	if v.placeErr != nil {
		return v.placeErr
	}
	v.mu.Lock()
	v.done[req.OrderID] = done
	v.mu.Unlock()
	return nil
}

func (v *manualVenue) fill(orderID string, price, qty int64) {
	v.mu.Lock()
	done := v.done[orderID]
	v.mu.Unlock()
	done(model.ExecutionResult{Fill: &model.FillEvent{
		OrderID: orderID, Price: price, Qty: qty, FilledAt: time.Now().UTC(),
	}})
}

func (v *manualVenue) reject(orderID, reason string) {
	v.mu.Lock()
	done := v.done[orderID]
	v.mu.Unlock()
	done(model.ExecutionResult{Reject: &model.RejectEvent{
		OrderID: orderID, Reason: reason, RejectedAt: time.Now().UTC(),
	}})
}

func newTestCoordinator(venue model.ExecutionVenue, timeout time.Duration) (*Coordinator, *positions.Book) {
	book := positions.NewBook()
	venues := map[model.Mode]model.ExecutionVenue{
		model.ModePaper: venue,
		model.ModeLive:  venue,
	}
	return NewCoordinator(book, venues, timeout), book
}

func TestCoordinator_FillAppliesToBook(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	var states []model.OrderState
	var mu sync.Mutex
	c.OnUpdate = func(u model.OrderUpdate) {
		mu.Lock()
		states = append(states, u.State)
		mu.Unlock()
	}

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 2, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	venue.fill(id, 10500, 2)

	update, ok := c.Get(id)
	if !ok {
		t.Fatalf("order %s not tracked", id)
	}
	if update.State != model.OrderFilled {
		t.Errorf("state = %s, want FILLED", update.State)
	}
	if update.FillPrice != 10500 {
		t.Errorf("fill price = %d, want 10500", update.FillPrice)
	}

	open := book.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].Qty != 2 || open[0].AvgPrice != 10500 {
		t.Errorf("position = %d @ %d, want 2 @ 10500", open[0].Qty, open[0].AvgPrice)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []model.OrderState{model.OrderRequested, model.OrderRouted, model.OrderFilled}
	if len(states) != len(want) {
		t.Fatalf("got %d updates %v, want %v", len(states), states, want)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("update %d = %s, want %s", i, states[i], s)
		}
	}
}

func TestCoordinator_DuplicateFillAppliesOnce(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	var dups int
	c.OnDuplicateCompletion = func(string) { dups++ }

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 3, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	venue.fill(id, 10000, 3)
	venue.fill(id, 10000, 3)

	open := book.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].Qty != 3 {
		t.Errorf("qty = %d, want 3 (duplicate fill must not apply)", open[0].Qty)
	}
	if dups != 1 {
		t.Errorf("duplicate completions = %d, want 1", dups)
	}
}

func TestCoordinator_RejectLeavesBookUntouched(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionSell, 1, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	venue.reject(id, "insufficient margin")

	update, _ := c.Get(id)
	if update.State != model.OrderRejected {
		t.Errorf("state = %s, want REJECTED", update.State)
	}
	if update.Reason != "insufficient margin" {
		t.Errorf("reason = %q, want %q", update.Reason, "insufficient margin")
	}
	if n := len(book.OpenPositions()); n != 0 {
		t.Errorf("open positions = %d, want 0 after reject", n)
	}
}

func TestCoordinator_CancelBeforeCompletion(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	var dups int
	c.OnDuplicateCompletion = func(string) { dups++ }

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	update, _ := c.Get(id)
	if update.State != model.OrderCancelled {
		t.Errorf("state = %s, want CANCELLED", update.State)
	}

	// A fill arriving after cancellation must be dropped, and the race
	// is expected — it is not a duplicate-completion anomaly.
	venue.fill(id, 10000, 1)
	if n := len(book.OpenPositions()); n != 0 {
		t.Errorf("open positions = %d, want 0 after cancelled fill", n)
	}
	if dups != 0 {
		t.Errorf("duplicate completions = %d, want 0 for a post-cancel callback", dups)
	}
}

func TestCoordinator_SubmitExitFlattensPosition(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	// Long 3 @ 100.
	id, _ := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 3, model.ModePaper)
	venue.fill(id, 10000, 3)

	pos := book.OpenPositions()[0]
	exitID, err := c.SubmitExit(context.Background(), pos)
	if err != nil {
		t.Fatalf("SubmitExit: %v", err)
	}

	exit, _ := c.Get(exitID)
	if exit.Type != model.TransactionSell {
		t.Errorf("exit of a long routed as %s, want SELL", exit.Type)
	}
	if exit.Qty != 3 {
		t.Errorf("exit qty = %d, want the full open quantity 3", exit.Qty)
	}

	venue.fill(exitID, 11000, 3)
	if n := len(book.OpenPositions()); n != 0 {
		t.Errorf("open positions = %d, want 0 after exit fill", n)
	}
}

func TestCoordinator_SubmitExitCoversShort(t *testing.T) {
	venue := newManualVenue()
	c, book := newTestCoordinator(venue, 0)

	id, _ := c.Submit(context.Background(), testInstrument(), model.TransactionSell, 2, model.ModePaper)
	venue.fill(id, 12000, 2)

	exitID, err := c.SubmitExit(context.Background(), book.OpenPositions()[0])
	if err != nil {
		t.Fatalf("SubmitExit: %v", err)
	}
	if exit, _ := c.Get(exitID); exit.Type != model.TransactionBuy {
		t.Errorf("exit of a short routed as %s, want BUY", exit.Type)
	}
}

func TestCoordinator_CancelAfterCompletion(t *testing.T) {
	venue := newManualVenue()
	c, _ := newTestCoordinator(venue, 0)

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	venue.fill(id, 10000, 1)

	if err := c.Cancel(id); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("Cancel after fill = %v, want ErrAlreadyCompleted", err)
	}
}

func TestCoordinator_CancelUnknownOrder(t *testing.T) {
	venue := newManualVenue()
	c, _ := newTestCoordinator(venue, 0)

	if err := c.Cancel("ORD-404"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Cancel unknown = %v, want ErrUnknownOrder", err)
	}
}

func TestCoordinator_LiveTimeoutRejects(t *testing.T) {
	venue := newManualVenue() // never completes on its own
	c, book := newTestCoordinator(venue, 20*time.Millisecond)

	updates := make(chan model.OrderUpdate, 8)
	c.OnUpdate = func(u model.OrderUpdate) { updates <- u }

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModeLive)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if !u.State.Terminal() {
				continue
			}
			if u.State != model.OrderRejected {
				t.Fatalf("terminal state = %s, want REJECTED", u.State)
			}
			if !strings.Contains(u.Reason, "timeout") {
				t.Errorf("reason = %q, want timeout reason", u.Reason)
			}
			if n := len(book.OpenPositions()); n != 0 {
				t.Errorf("open positions = %d, want 0 after timeout", n)
			}
			_ = id
			return
		case <-deadline:
			t.Fatal("no terminal update before deadline")
		}
	}
}

func TestCoordinator_PaperHasNoTimeout(t *testing.T) {
	venue := newManualVenue()
	c, _ := newTestCoordinator(venue, 10*time.Millisecond)

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	update, _ := c.Get(id)
	if update.State != model.OrderRouted {
		t.Errorf("state = %s, want ROUTED (paper orders never time out)", update.State)
	}
}

func TestCoordinator_PlaceErrorRejectsImmediately(t *testing.T) {
	venue := newManualVenue()
	venue.placeErr = errors.New("no quote available")
	c, _ := newTestCoordinator(venue, 0)

	id, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModePaper)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	update, _ := c.Get(id)
	if update.State != model.OrderRejected {
		t.Errorf("state = %s, want REJECTED", update.State)
	}
	if !strings.Contains(update.Reason, "no quote") {
		t.Errorf("reason = %q, want venue error", update.Reason)
	}
}

func TestCoordinator_SubmitValidation(t *testing.T) {
	venue := newManualVenue()
	book := positions.NewBook()
	c := NewCoordinator(book, map[model.Mode]model.ExecutionVenue{model.ModePaper: venue}, 0)

	if _, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 0, model.ModePaper); err == nil {
		t.Error("Submit with qty 0 should fail")
	}
	if _, err := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModeLive); !errors.Is(err, ErrNoVenue) {
		t.Errorf("Submit without live venue = %v, want ErrNoVenue", err)
	}
}

func TestCoordinator_PendingExcludesTerminal(t *testing.T) {
	venue := newManualVenue()
	c, _ := newTestCoordinator(venue, 0)

	id1, _ := c.Submit(context.Background(), testInstrument(), model.TransactionBuy, 1, model.ModePaper)
	id2, _ := c.Submit(context.Background(), testInstrument(), model.TransactionSell, 1, model.ModePaper)
	venue.fill(id1, 10000, 1)

	pending := c.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].OrderID != id2 {
		t.Errorf("pending order = %s, want %s", pending[0].OrderID, id2)
	}
}
