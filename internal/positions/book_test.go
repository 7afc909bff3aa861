package positions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"scalper-systemv1/internal/model"
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

func TestBook_OpenAndMergeVWAP(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	pos, realized, err := b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if realized != 0 {
		t.Errorf("opening fill realized %d, want 0", realized)
	}
	if pos.Side != model.SideLong || pos.Qty != 10 || pos.AvgPrice != 10000 {
		t.Errorf("unexpected position %+v", pos)
	}

	// buy 10 @ 100 then buy 10 @ 110 → qty 20, avg 105
	pos, _, err = b.ApplyFill(inst, model.TransactionBuy, 10, 11000, model.ModePaper)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if pos.Qty != 20 || pos.AvgPrice != 10500 {
		t.Errorf("VWAP merge wrong: qty=%d avg=%d, want 20/10500", pos.Qty, pos.AvgPrice)
	}

	open := b.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected exactly one open position per (instrument, mode), got %d", len(open))
	}
}

func TestBook_PartialExitRealizesImmediately(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	pos, realized, err := b.ApplyFill(inst, model.TransactionSell, 4, 11000, model.ModePaper)
	if err != nil {
		t.Fatalf("partial exit: %v", err)
	}
	// (110 - 100) × 4 lots × 25 = 100000 paise
	if realized != (11000-10000)*4*25 {
		t.Errorf("realized %d, want %d", realized, (11000-10000)*4*25)
	}
	if pos.Qty != 6 || pos.AvgPrice != 10000 || pos.Status != model.PositionOpen {
		t.Errorf("partial exit left %+v", pos)
	}
}

func TestBook_ExactCloseNetsToZero(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	pos, realized, err := b.ApplyFill(inst, model.TransactionSell, 10, 12000, model.ModePaper)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if pos.Status != model.PositionClosed || pos.Qty != 0 {
		t.Errorf("expected closed position, got %+v", pos)
	}
	if realized != (12000-10000)*10*25 {
		t.Errorf("realized %d, want %d", realized, (12000-10000)*10*25)
	}
	if len(b.OpenPositions()) != 0 {
		t.Error("book should have no open positions after exact close")
	}
}

// open long 10 @ 100, sell 15 @ 120 → closes the long (realized (120−100)×10)
// and opens a short 5 @ 120.
func TestBook_OvershootFlipsPosition(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	var events []model.PositionEvent
	b.OnChange = func(ev model.PositionEvent) { events = append(events, ev) }

	opened, _, _ := b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	flipped, realized, err := b.ApplyFill(inst, model.TransactionSell, 15, 12000, model.ModePaper)
	if err != nil {
		t.Fatalf("flip: %v", err)
	}

	if realized != (12000-10000)*10*25 {
		t.Errorf("realized %d, want %d", realized, (12000-10000)*10*25)
	}
	if flipped.Side != model.SideShort || flipped.Qty != 5 || flipped.AvgPrice != 12000 {
		t.Errorf("flip result %+v, want short 5 @ 12000", flipped)
	}
	if flipped.ID == opened.ID {
		t.Error("flipped position must have a new identity")
	}

	// open, close, open — three change events.
	if len(events) != 3 {
		t.Fatalf("expected 3 change events, got %d", len(events))
	}
	if events[1].Position.Status != model.PositionClosed {
		t.Errorf("second event should be the close, got %+v", events[1].Position)
	}
}

func TestBook_ShortSidePnLIsSigned(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	b.ApplyFill(inst, model.TransactionSell, 10, 12000, model.ModePaper)
	_, realized, err := b.ApplyFill(inst, model.TransactionBuy, 10, 11000, model.ModePaper)
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	// short profits when price falls: (120 − 110) × 10 × 25
	if realized != (12000-11000)*10*25 {
		t.Errorf("short realized %d, want %d", realized, (12000-11000)*10*25)
	}
}

func TestBook_ClosePosition(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	pos, _, _ := b.ApplyFill(inst, model.TransactionBuy, 2, 10000, model.ModePaper)

	realized, err := b.ClosePosition(pos.ID, 10500)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if realized != (10500-10000)*2*25 {
		t.Errorf("realized %d", realized)
	}

	// Second close: already closed.
	if _, err := b.ClosePosition(pos.ID, 10500); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
	if _, err := b.ClosePosition("LIVE-999", 10500); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound for unknown id, got %v", err)
	}
}

func TestBook_ModesAreIndependent(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	b.ApplyFill(inst, model.TransactionBuy, 5, 10000, model.ModeLive)

	open := b.OpenPositions()
	if len(open) != 2 {
		t.Fatalf("paper and live positions must not net against each other: got %d", len(open))
	}
}

func TestBook_RestoreRoundTrip(t *testing.T) {
	b := NewBook()
	inst := testInstrument()
	b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)

	restored := NewBook()
	restored.Restore(b.OpenPositions())

	open := restored.OpenPositions()
	if len(open) != 1 || open[0].Qty != 10 || open[0].AvgPrice != 10000 {
		t.Fatalf("restore mismatch: %+v", open)
	}

	// Restored positions keep netting normally.
	pos, _, err := restored.ApplyFill(inst, model.TransactionSell, 10, 11000, model.ModePaper)
	if err != nil || pos.Status != model.PositionClosed {
		t.Errorf("netting after restore failed: %+v err=%v", pos, err)
	}
}

// The engine's change handler snapshots the book to persist it, so
// OnChange must run with no entry lock held.
func TestBook_OnChangeMayReadTheBook(t *testing.T) {
	b := NewBook()
	inst := testInstrument()

	var seenOpen []int
	b.OnChange = func(ev model.PositionEvent) {
		seenOpen = append(seenOpen, len(b.OpenPositions()))
		if _, ok := b.Get(ev.Position.ID); ev.Position.Status == model.PositionOpen && !ok {
			t.Errorf("Get(%s) missed a position the event reports open", ev.Position.ID)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, _, err := b.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper); err != nil {
			t.Errorf("open: %v", err)
		}
		// Flip exercises the double-event path.
		if _, _, err := b.ApplyFill(inst, model.TransactionSell, 15, 11000, model.ModePaper); err != nil {
			t.Errorf("flip: %v", err)
		}
		if short := b.OpenPositions(); len(short) == 1 {
			if _, err := b.ClosePosition(short[0].ID, 10500); err != nil {
				t.Errorf("close: %v", err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("book re-entered from OnChange deadlocked")
	}

	// open, close, flip-open, explicit close — four events fired.
	if len(seenOpen) != 4 {
		t.Fatalf("expected 4 change events, got %d", len(seenOpen))
	}
}

func TestBook_ConcurrentFillsDistinctInstruments(t *testing.T) {
	b := NewBook()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		inst := testInstrument()
		inst.Token = model.OptionSymbol("NIFTY", 2400000+int64(i)*5000, model.KindCall, inst.Expiry)
		inst.Strike = 2400000 + int64(i)*5000

		wg.Add(1)
		go func(in model.Instrument) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.ApplyFill(in, model.TransactionBuy, 1, 10000, model.ModePaper)
			}
		}(inst)
	}
	wg.Wait()

	open := b.OpenPositions()
	if len(open) != 8 {
		t.Fatalf("expected 8 open positions, got %d", len(open))
	}
	for _, p := range open {
		if p.Qty != 50 {
			t.Errorf("%s: qty %d, want 50", p.Instrument.Token, p.Qty)
		}
	}
}
