package pnl

import (
	"testing"
	"time"

	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/positions"
)

func testInstrument() model.Instrument {
	return model.Instrument{
		Token:      "NIFTY26AUG24500CE",
		Exchange:   "NFO",
		Underlying: "NIFTY",
		Kind:       model.KindCall,
		Strike:     2450000,
		Expiry:     time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
		LotSize:    25,
	}
}

// mapQuotes is a trivial QuoteSource for tests.
type mapQuotes map[string]model.Quote

func (m mapQuotes) Quote(key string) (model.Quote, bool) {
	q, ok := m[key]
	return q, ok && q.Valid()
}

func TestUnrealized_SignedBySide(t *testing.T) {
	inst := testInstrument()
	long := model.Position{ID: "P-1", Instrument: inst, Side: model.SideLong, Qty: 10, AvgPrice: 10000, Status: model.PositionOpen}
	short := model.Position{ID: "P-2", Instrument: inst, Side: model.SideShort, Qty: 10, AvgPrice: 10000, Status: model.PositionOpen}

	quote := model.Quote{LTP: 11000}

	if got := Unrealized(long, quote).Unrealized; got != (11000-10000)*10*25 {
		t.Errorf("long unrealized %d, want %d", got, (11000-10000)*10*25)
	}
	if got := Unrealized(short, quote).Unrealized; got != (10000-11000)*10*25 {
		t.Errorf("short unrealized %d, want %d", got, (10000-11000)*10*25)
	}
}

func TestEvalPrice_FallsBackToMid(t *testing.T) {
	if p := EvalPrice(model.Quote{LTP: 10100, Bid: 10000, Ask: 10200}); p != 10100 {
		t.Errorf("LTP should win, got %d", p)
	}
	if p := EvalPrice(model.Quote{Bid: 10000, Ask: 10200}); p != 10100 {
		t.Errorf("mid fallback wrong, got %d", p)
	}
	if p := EvalPrice(model.Quote{}); p != 0 {
		t.Errorf("empty quote should evaluate to 0, got %d", p)
	}
}

// Realized P&L after a full close must equal the unrealized P&L computed
// immediately before the close at the closing price.
func TestContinuityAtCloseBoundary(t *testing.T) {
	book := positions.NewBook()
	inst := testInstrument()

	pos, _, _ := book.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)

	exitPrice := int64(11700)
	before := Unrealized(pos, model.Quote{LTP: exitPrice}).Unrealized

	realized, err := book.ClosePosition(pos.ID, exitPrice)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if realized != before {
		t.Errorf("realized %d != unrealized-before-close %d", realized, before)
	}
}

func TestEngine_MemoSuppressesRedundantUpdates(t *testing.T) {
	book := positions.NewBook()
	inst := testInstrument()
	book.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)

	quotes := mapQuotes{}
	eng := NewEngine(book, quotes)

	updates := 0
	eng.OnUpdate = func(model.PnLSnapshot) { updates++ }

	tick := model.Tick{Token: inst.Token, Exchange: inst.Exchange, LTP: 10500, Seq: 1}
	eng.OnTick(tick)
	eng.OnTick(tick) // same price — memoized, no second update

	if updates != 1 {
		t.Errorf("expected 1 update, got %d", updates)
	}

	tick.LTP = 10600
	tick.Seq = 2
	eng.OnTick(tick)
	if updates != 2 {
		t.Errorf("expected second update on price change, got %d", updates)
	}
}

func TestEngine_PositionMutationTriggersRecompute(t *testing.T) {
	book := positions.NewBook()
	inst := testInstrument()

	quotes := mapQuotes{inst.Key(): {LTP: 10500}}
	eng := NewEngine(book, quotes)
	book.OnChange = eng.OnPositionChange

	updates := 0
	var last model.PnLSnapshot
	eng.OnUpdate = func(s model.PnLSnapshot) { updates++; last = s }

	book.ApplyFill(inst, model.TransactionBuy, 10, 10000, model.ModePaper)
	if updates != 1 {
		t.Fatalf("expected update on open, got %d", updates)
	}
	if last.Unrealized != (10500-10000)*10*25 {
		t.Errorf("unrealized %d", last.Unrealized)
	}

	// Merging changes avg price → new snapshot even at the same quote.
	book.ApplyFill(inst, model.TransactionBuy, 10, 11000, model.ModePaper)
	if updates != 2 {
		t.Errorf("expected update on merge, got %d", updates)
	}
}

func TestEngine_SnapshotsAndTotal(t *testing.T) {
	book := positions.NewBook()
	instA := testInstrument()
	instB := testInstrument()
	instB.Token = "NIFTY26AUG24500PE"
	instB.Kind = model.KindPut

	quotes := mapQuotes{
		instA.Key(): {LTP: 10500},
		instB.Key(): {LTP: 9000},
	}
	eng := NewEngine(book, quotes)

	book.ApplyFill(instA, model.TransactionBuy, 10, 10000, model.ModePaper)
	book.ApplyFill(instB, model.TransactionSell, 4, 9500, model.ModePaper)

	snaps := eng.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	wantTotal := (10500-10000)*10*25 + (9500-9000)*4*25
	if got := eng.TotalUnrealized(); got != int64(wantTotal) {
		t.Errorf("total unrealized %d, want %d", got, wantTotal)
	}
}
