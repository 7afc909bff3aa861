package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"scalper-systemv1/internal/model"
)

type mapQuotes map[string]model.Quote

func (m mapQuotes) Quote(key string) (model.Quote, bool) {
	q, ok := m[key]
	return q, ok && q.Valid()
}

func testInstrument() model.Instrument {
	return model.Instrument{
		Token:         "NIFTY26AUG24500CE",
		Exchange:      "NFO",
		TradingSymbol: "NIFTY26AUG24500CE",
		Underlying:    "NIFTY",
		Kind:          model.KindCall,
		Strike:        2450000,
		LotSize:       25,
	}
}

func request(txType model.TransactionType, qty int64) model.OrderRequest {
	return model.OrderRequest{
		OrderID:    "PAPER-1",
		Instrument: testInstrument(),
		Type:       txType,
		Qty:        qty,
		Mode:       model.ModePaper,
	}
}

func awaitResult(t *testing.T, resultCh chan model.ExecutionResult) model.ExecutionResult {
	t.Helper()
	select {
	case res := <-resultCh:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for execution result")
		return model.ExecutionResult{}
	}
}

// A paper sell fills at the current best bid minus slippage — never at the
// last traded price, even when LTP differs from the bid.
func TestSimulator_SellFillsAtBidMinusSlippage(t *testing.T) {
	inst := testInstrument()
	quotes := mapQuotes{inst.Key(): {Bid: 10000, Ask: 10200, LTP: 10100}}
	sim := NewSimulator(quotes, 10, 0, nil) // 10 bps

	resultCh := make(chan model.ExecutionResult, 1)
	err := sim.Place(context.Background(), request(model.TransactionSell, 2), func(r model.ExecutionResult) {
		resultCh <- r
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	res := awaitResult(t, resultCh)
	if res.Fill == nil {
		t.Fatalf("expected fill, got %+v", res)
	}
	wantSlip := int64(10000 * 10 / 10000) // 10 paise
	if res.Fill.Price != 10000-wantSlip {
		t.Errorf("sell fill price %d, want %d (bid − slippage)", res.Fill.Price, 10000-wantSlip)
	}
	if res.Fill.Price == 10100 {
		t.Error("paper sell must not fill at LTP")
	}
}

func TestSimulator_BuyFillsAtAskPlusSlippage(t *testing.T) {
	inst := testInstrument()
	quotes := mapQuotes{inst.Key(): {Bid: 10000, Ask: 10200, LTP: 10100}}
	sim := NewSimulator(quotes, 50, 0, nil) // 50 bps

	resultCh := make(chan model.ExecutionResult, 1)
	if err := sim.Place(context.Background(), request(model.TransactionBuy, 1), func(r model.ExecutionResult) {
		resultCh <- r
	}); err != nil {
		t.Fatalf("place: %v", err)
	}

	res := awaitResult(t, resultCh)
	wantSlip := int64(10200 * 50 / 10000)
	if res.Fill == nil || res.Fill.Price != 10200+wantSlip {
		t.Fatalf("buy fill %+v, want ask+slippage=%d", res.Fill, 10200+wantSlip)
	}
	if res.Fill.Slippage != wantSlip {
		t.Errorf("slippage %d, want %d", res.Fill.Slippage, wantSlip)
	}
}

func TestSimulator_NoQuoteAvailable(t *testing.T) {
	sim := NewSimulator(mapQuotes{}, 0, 0, nil)

	err := sim.Place(context.Background(), request(model.TransactionBuy, 1), func(model.ExecutionResult) {
		t.Error("done must not be called when placement fails")
	})
	if !errors.Is(err, ErrNoQuoteAvailable) {
		t.Errorf("expected ErrNoQuoteAvailable, got %v", err)
	}
}

func TestSimulator_LatencyDelaysDelivery(t *testing.T) {
	inst := testInstrument()
	quotes := mapQuotes{inst.Key(): {Bid: 10000, Ask: 10200}}
	sim := NewSimulator(quotes, 0, 100*time.Millisecond, nil)

	resultCh := make(chan model.ExecutionResult, 1)
	start := time.Now()
	if err := sim.Place(context.Background(), request(model.TransactionBuy, 1), func(r model.ExecutionResult) {
		resultCh <- r
	}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Place must return without waiting for the simulated latency")
	}

	awaitResult(t, resultCh)
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("fill delivered after %v, want ≥ latency", elapsed)
	}
}

func TestAccount_BalanceMovesWithFills(t *testing.T) {
	inst := testInstrument()
	quotes := mapQuotes{inst.Key(): {Bid: 10000, Ask: 10000}}
	acct := NewAccount(10_000_000, "") // ₹1,00,000
	sim := NewSimulator(quotes, 0, 0, acct)

	resultCh := make(chan model.ExecutionResult, 1)
	sim.Place(context.Background(), request(model.TransactionBuy, 2), func(r model.ExecutionResult) {
		resultCh <- r
	})
	awaitResult(t, resultCh)

	// 2 lots × 25 × 10000 paise
	want := int64(10_000_000 - 2*25*10000)
	if acct.Balance() != want {
		t.Errorf("balance %d, want %d", acct.Balance(), want)
	}

	m := acct.Margins([]model.Position{{
		Mode: model.ModePaper, Qty: 2, AvgPrice: 10000,
		Instrument: inst, Status: model.PositionOpen,
	}})
	if m.Utilised != 2*25*10000 {
		t.Errorf("utilised %d", m.Utilised)
	}
	if m.Available != m.Net-m.Utilised {
		t.Errorf("available %d, net %d, utilised %d", m.Available, m.Net, m.Utilised)
	}
}
