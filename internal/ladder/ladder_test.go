package ladder

import (
	"testing"
	"time"

	"scalper-systemv1/internal/instruments"
	"scalper-systemv1/internal/model"
)

var testExpiry = time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

func testSpec() instruments.UnderlyingSpec {
	return instruments.UnderlyingSpec{
		Symbol:       "NIFTY",
		SpotToken:    "256265",
		SpotExchange: "NSE",
		LotSize:      25,
		StrikeStep:   5000, // ₹50
		TickSize:     5,
		Expiry:       testExpiry,
	}
}

// newTestAggregator builds a registry + aggregator and primes the spot
// instrument so spot ticks route.
func newTestAggregator(t *testing.T, window int) (*instruments.Registry, *Aggregator) {
	t.Helper()
	reg := instruments.New(instruments.NewSyntheticSource([]instruments.UnderlyingSpec{testSpec()}))
	if _, err := reg.SpotInstrument("NIFTY"); err != nil {
		t.Fatalf("spot: %v", err)
	}
	return reg, New(reg, []instruments.UnderlyingSpec{testSpec()}, window)
}

func spotTick(ltp int64, seq int64) model.Tick {
	return model.Tick{Token: "256265", Exchange: "NSE", LTP: ltp, Seq: seq, TickTS: time.Unix(1700000000+seq, 0).UTC()}
}

func optionTick(token string, bid, ask, ltp, seq int64) model.Tick {
	return model.Tick{Token: token, Exchange: "NFO", LTP: ltp, Bid: bid, Ask: ask, Seq: seq, TickTS: time.Unix(1700000000+seq, 0).UTC()}
}

func TestLadder_WindowAroundSpot(t *testing.T) {
	_, agg := newTestAggregator(t, 2)

	agg.OnTick(spotTick(2450000, 1)) // spot 24500, exactly on grid

	snap, ok := agg.Snapshot("NIFTY")
	if !ok {
		t.Fatal("expected snapshot for NIFTY")
	}
	if snap.ATMStrike != 2450000 {
		t.Errorf("expected ATM 2450000, got %d", snap.ATMStrike)
	}
	if len(snap.Rows) != 5 { // 2 below + ATM + 2 above
		t.Fatalf("expected 5 rows, got %d", len(snap.Rows))
	}
	if snap.Rows[0].Strike != 2440000 || snap.Rows[4].Strike != 2460000 {
		t.Errorf("window bounds wrong: %d..%d", snap.Rows[0].Strike, snap.Rows[4].Strike)
	}
	for _, r := range snap.Rows {
		if r.ATM != (r.Strike == 2450000) {
			t.Errorf("ATM flag wrong on strike %d", r.Strike)
		}
		if r.Call.Kind != model.KindCall || r.Put.Kind != model.KindPut {
			t.Errorf("row %d: legs not populated", r.Strike)
		}
	}
}

func TestLadder_ATMTieBreakPrefersLowerStrike(t *testing.T) {
	// Strikes 24500 and 24550 with spot exactly between at 24525.
	_, agg := newTestAggregator(t, 1)

	agg.OnTick(spotTick(2452500, 1))

	snap, _ := agg.Snapshot("NIFTY")
	if snap.ATMStrike != 2450000 {
		t.Errorf("equidistant spot must anchor on the lower strike: got %d", snap.ATMStrike)
	}
}

func TestLadder_OptionTickUpdatesRow(t *testing.T) {
	_, agg := newTestAggregator(t, 1)
	agg.OnTick(spotTick(2450000, 1))

	events := 0
	agg.OnRowUpdate = func(ev model.LadderEvent) { events++ }

	callToken := model.OptionSymbol("NIFTY", 2450000, model.KindCall, testExpiry)
	agg.OnTick(optionTick(callToken, 11000, 11200, 11100, 1))

	snap, _ := agg.Snapshot("NIFTY")
	var atmRow *model.LadderRow
	for i := range snap.Rows {
		if snap.Rows[i].Strike == 2450000 {
			atmRow = &snap.Rows[i]
		}
	}
	if atmRow == nil {
		t.Fatal("ATM row missing")
	}
	if atmRow.CallQuote.Bid != 11000 || atmRow.CallQuote.Ask != 11200 || atmRow.CallQuote.LTP != 11100 {
		t.Errorf("call quote not applied: %+v", atmRow.CallQuote)
	}
	if atmRow.PutQuote.Valid() {
		t.Errorf("put quote should still be empty, got %+v", atmRow.PutQuote)
	}
	if events != 1 {
		t.Errorf("expected 1 row update event, got %d", events)
	}
}

func TestLadder_WindowShiftEvictsAndRegisters(t *testing.T) {
	_, agg := newTestAggregator(t, 1)

	agg.OnTick(spotTick(2450000, 1)) // window 24450..24550

	// Trade the 24450 call while it is inside the window.
	lowCall := model.OptionSymbol("NIFTY", 2445000, model.KindCall, testExpiry)
	agg.OnTick(optionTick(lowCall, 20000, 20200, 20100, 1))

	shifts := 0
	agg.OnATMShift = func(u string, oldATM, newATM int64) {
		shifts++
		if oldATM != 2450000 || newATM != 2460000 {
			t.Errorf("shift %d → %d, want 2450000 → 2460000", oldATM, newATM)
		}
	}

	agg.OnTick(spotTick(2460000, 2)) // window 24550..24650

	if shifts != 1 {
		t.Fatalf("expected 1 ATM shift, got %d", shifts)
	}

	snap, _ := agg.Snapshot("NIFTY")
	for _, r := range snap.Rows {
		if r.Strike == 2445000 {
			t.Error("strike 24450 should have been evicted")
		}
	}
	if len(snap.Rows) != 3 || snap.Rows[0].Strike != 2455000 {
		t.Fatalf("unexpected window after shift: %+v", snap.Rows)
	}

	// Evicted instruments keep serving quotes from the cache.
	if q, ok := agg.Quote("NFO:" + lowCall); !ok || q.LTP != 20100 {
		t.Errorf("evicted instrument quote lost: ok=%v q=%+v", ok, q)
	}
}

func TestLadder_ReenteringStrikeKeepsLastQuote(t *testing.T) {
	_, agg := newTestAggregator(t, 1)

	agg.OnTick(spotTick(2450000, 1))
	lowCall := model.OptionSymbol("NIFTY", 2445000, model.KindCall, testExpiry)
	agg.OnTick(optionTick(lowCall, 20000, 20200, 20100, 1))

	agg.OnTick(spotTick(2460000, 2)) // evicts 24450
	agg.OnTick(spotTick(2450000, 3)) // 24450 re-enters

	snap, _ := agg.Snapshot("NIFTY")
	for _, r := range snap.Rows {
		if r.Strike == 2445000 && r.CallQuote.LTP != 20100 {
			t.Errorf("re-entered row should be seeded from quote cache, got %+v", r.CallQuote)
		}
	}
}

// Applying option ticks out of sequence order is handled upstream by the
// normalizer; the ladder itself must remain consistent under snapshot
// while updates land.
func TestLadder_SnapshotIsConsistentCopy(t *testing.T) {
	_, agg := newTestAggregator(t, 1)
	agg.OnTick(spotTick(2450000, 1))

	snap1, _ := agg.Snapshot("NIFTY")

	callToken := model.OptionSymbol("NIFTY", 2450000, model.KindCall, testExpiry)
	agg.OnTick(optionTick(callToken, 11000, 11200, 11100, 1))

	// Earlier snapshot must not observe the later write.
	for _, r := range snap1.Rows {
		if r.CallQuote.Valid() {
			t.Error("snapshot mutated after the fact — not a copy")
		}
	}
}
