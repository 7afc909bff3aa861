package kiteconnect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scalper-systemv1/internal/model"
)

const sampleDump = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
9604354,37517,NIFTY26AUG24500CE,NIFTY,142.5,2026-08-27,24500,0.05,25,CE,NFO-OPT,NFO
9604610,37518,NIFTY26AUG24500PE,NIFTY,98.2,2026-08-27,24500,0.05,25,PE,NFO-OPT,NFO
9604866,37519,NIFTY26AUGFUT,NIFTY,24512.0,2026-08-27,0,0.05,25,FUT,NFO-FUT,NFO
`

func TestParseInstrumentCSV(t *testing.T) {
	insts, err := parseInstrumentCSV(strings.NewReader(sampleDump), "NFO")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("instruments = %d, want 2 (futures filtered)", len(insts))
	}

	ce := insts[0]
	if ce.Kind != model.KindCall {
		t.Errorf("kind = %s, want CE", ce.Kind)
	}
	if ce.Strike != 2450000 {
		t.Errorf("strike = %d paise, want 2450000", ce.Strike)
	}
	if ce.TickSize != 5 {
		t.Errorf("tick size = %d paise, want 5", ce.TickSize)
	}
	if ce.LotSize != 25 {
		t.Errorf("lot size = %d, want 25", ce.LotSize)
	}
	if ce.Expiry.Day() != 27 {
		t.Errorf("expiry day = %d, want 27", ce.Expiry.Day())
	}
	if ce.Underlying != "NIFTY" {
		t.Errorf("underlying = %s, want NIFTY", ce.Underlying)
	}
}

func TestPaiseRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{142.5, 14250},
		{0.05, 5},
		{24500, 2450000},
		{99.995, 10000},
	}
	for _, tc := range cases {
		if got := paise(tc.in); got != tc.want {
			t.Errorf("paise(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClient_PlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/regular" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token key:tok" {
			t.Errorf("auth header = %q", got)
		}
		r.ParseForm()
		if r.Form.Get("quantity") != "50" {
			t.Errorf("quantity = %q, want 50", r.Form.Get("quantity"))
		}
		if r.Form.Get("order_type") != "MARKET" {
			t.Errorf("order_type = %q, want MARKET", r.Form.Get("order_type"))
		}
		w.Write([]byte(`{"status":"success","data":{"order_id":"230826000001"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", AccessToken: "tok", RootURL: srv.URL})
	id, err := c.PlaceOrder(context.Background(), OrderParams{
		Exchange:        "NFO",
		TradingSymbol:   "NIFTY26AUG24500CE",
		TransactionType: "BUY",
		Quantity:        50,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "230826000001" {
		t.Errorf("order id = %s", id)
	}
}

func TestClient_SessionExpiryHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","error_type":"TokenException","message":"token expired"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "key", AccessToken: "tok", RootURL: srv.URL})
	fired := false
	c.SessionExpiryHook = func() { fired = true }

	if _, err := c.Positions(context.Background()); err == nil {
		t.Fatal("expected error from expired token")
	}
	if !fired {
		t.Error("session expiry hook did not fire")
	}
}
