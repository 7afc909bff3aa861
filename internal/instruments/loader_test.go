package instruments

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"scalper-systemv1/internal/model"
)

// fakeFetcher serves a canned catalog and counts fetches.
type fakeFetcher struct {
	catalog []model.Instrument
	err     error
	calls   int
}

func (f *fakeFetcher) Instruments(_ context.Context, _ string) ([]model.Instrument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog, nil
}

func makeOption(underlying string, strike int64, kind model.Kind, expiry time.Time) model.Instrument {
	sym := model.OptionSymbol(underlying, strike, kind, expiry)
	return model.Instrument{
		Token:         sym,
		Exchange:      "NFO",
		TradingSymbol: sym,
		Underlying:    underlying,
		Strike:        strike,
		Kind:          kind,
		Expiry:        expiry,
		LotSize:       25,
		TickSize:      5,
	}
}

func TestLoader_FiltersToTrackedOptions(t *testing.T) {
	ff := &fakeFetcher{catalog: []model.Instrument{
		makeOption("NIFTY", 2450000, model.KindCall, testExpiry),
		makeOption("NIFTY", 2450000, model.KindPut, testExpiry),
		makeOption("BANKNIFTY", 5100000, model.KindCall, testExpiry),
		{Token: "NIFTY26AUGFUT", Underlying: "NIFTY", Kind: "FUT", Expiry: testExpiry},
	}}
	l := NewLoader(ff, t.TempDir())

	got, err := l.Load(context.Background(), []string{"NIFTY"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 instruments after filtering, got %d", len(got))
	}
	for _, in := range got {
		if in.Underlying != "NIFTY" || !in.IsOption() {
			t.Errorf("unexpected instrument in filtered catalog: %+v", in)
		}
	}
}

func TestLoader_SecondLoadHitsCache(t *testing.T) {
	dir := t.TempDir()
	ff := &fakeFetcher{catalog: []model.Instrument{
		makeOption("NIFTY", 2450000, model.KindCall, testExpiry),
	}}

	l := NewLoader(ff, dir)
	if _, err := l.Load(context.Background(), []string{"NIFTY"}); err != nil {
		t.Fatalf("first load: %v", err)
	}

	// A fresh cache must satisfy the second load without a fetch.
	got, err := NewLoader(ff, dir).Load(context.Background(), []string{"NIFTY"})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if ff.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", ff.calls)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 cached instrument, got %d", len(got))
	}
}

func TestLoader_FetchFailureWithoutCache(t *testing.T) {
	ff := &fakeFetcher{err: errors.New("api down")}
	l := NewLoader(ff, t.TempDir())

	if _, err := l.Load(context.Background(), []string{"NIFTY"}); err == nil {
		t.Error("expected error when fetch fails and no cache exists")
	}
}

func TestLoader_FetchFailureFallsBackToExpiredCache(t *testing.T) {
	dir := t.TempDir()

	// Plant a day-old cache file, then fail every fetch.
	stale := cacheFile{
		FetchedAt: time.Now().Add(-24 * time.Hour),
		Instruments: []model.Instrument{
			makeOption("NIFTY", 2450000, model.KindCall, testExpiry),
		},
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal cache: %v", err)
	}
	ff := &fakeFetcher{err: errors.New("api down")}
	l := NewLoader(ff, dir)
	if err := os.WriteFile(l.cachePath(), data, 0o644); err != nil {
		t.Fatalf("write cache: %v", err)
	}

	got, err := l.Load(context.Background(), []string{"NIFTY"})
	if err != nil {
		t.Fatalf("load with expired cache fallback: %v", err)
	}
	if ff.calls != 1 {
		t.Errorf("expected the expired cache to be tried only after a fetch, got %d fetches", ff.calls)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 instrument from expired cache, got %d", len(got))
	}
}

func TestNearestExpiry(t *testing.T) {
	near := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	far := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)
	past := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	catalog := []model.Instrument{
		makeOption("NIFTY", 2450000, model.KindCall, far),
		makeOption("NIFTY", 2450000, model.KindCall, near),
		makeOption("NIFTY", 2450000, model.KindCall, past),
		makeOption("BANKNIFTY", 5100000, model.KindCall, past),
	}

	got := NearestExpiry(catalog, "NIFTY", time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))
	if !got.Equal(near) {
		t.Errorf("expected %v, got %v", near, got)
	}

	// Expiry day itself still counts as the front contract.
	got = NearestExpiry(catalog, "NIFTY", time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC))
	if !got.Equal(near) {
		t.Errorf("expected expiry-day contract %v, got %v", near, got)
	}

	if got := NearestExpiry(catalog, "BANKNIFTY", time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)); !got.IsZero() {
		t.Errorf("expected zero time when only past expiries exist, got %v", got)
	}
}

func TestCatalogSource_LookupAndStrikes(t *testing.T) {
	catalog := []model.Instrument{
		makeOption("NIFTY", 2455000, model.KindCall, testExpiry),
		makeOption("NIFTY", 2450000, model.KindCall, testExpiry),
		makeOption("NIFTY", 2450000, model.KindPut, testExpiry),
	}
	cs := NewCatalogSource(catalog, testSpecs())

	inst, ok := cs.Lookup("NIFTY", 2450000, model.KindPut, testExpiry)
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if inst.TradingSymbol != "NIFTY26AUG24500PE" {
		t.Errorf("unexpected trading symbol %q", inst.TradingSymbol)
	}

	if _, ok := cs.Lookup("NIFTY", 2460000, model.KindCall, testExpiry); ok {
		t.Error("expected miss for a strike not in the catalog")
	}

	spot, ok := cs.Spot("NIFTY")
	if !ok || spot.Token != "256265" {
		t.Errorf("expected configured spot instrument, got %+v ok=%v", spot, ok)
	}

	strikes := cs.Strikes("NIFTY", testExpiry)
	if len(strikes) != 2 || strikes[0] != 2450000 || strikes[1] != 2455000 {
		t.Errorf("unexpected strike grid %v", strikes)
	}
}
