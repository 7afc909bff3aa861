// Package ladder maintains, per underlying, the ordered window of option
// strikes around spot with live call/put quotes, and tracks which strike
// is at-the-money as spot moves.
//
// Ownership: the aggregator exclusively owns ladder row state. Mutations
// for one underlying serialize on that underlying's lock; different
// underlyings update fully in parallel. Observers get copy-on-read
// snapshots and can never see a half-updated row.
package ladder

import (
	"log"
	"sync"
	"time"

	"scalper-systemv1/internal/instruments"
	"scalper-systemv1/internal/model"
)

// row is the mutable ladder row for one strike.
type row struct {
	strike    int64
	call      model.Instrument
	put       model.Instrument
	callQuote model.Quote
	putQuote  model.Quote
}

// ladder is one underlying's strike window. All fields are guarded by mu.
type ladder struct {
	mu sync.Mutex

	spec   instruments.UnderlyingSpec
	window int // strikes kept above and below ATM

	spot int64
	atm  int64
	rows map[int64]*row // strike → row, only strikes inside the window
}

// Aggregator routes canonical ticks to per-underlying ladders and keeps a
// quote cache for every instrument it has seen a tick for — including
// instruments whose rows were evicted from the window, so open positions
// on them stay marked to market.
type Aggregator struct {
	reg     *instruments.Registry
	ladders map[string]*ladder // underlying → ladder, fixed at construction

	quoteMu sync.RWMutex
	quotes  map[string]model.Quote // instrument key → latest quote

	// Hooks for change events and metrics (optional).
	OnRowUpdate func(model.LadderEvent)
	OnATMShift  func(underlying string, oldATM, newATM int64)
}

// New creates an Aggregator tracking the given underlyings with a window
// of `window` strikes above and below ATM.
func New(reg *instruments.Registry, specs []instruments.UnderlyingSpec, window int) *Aggregator {
	a := &Aggregator{
		reg:     reg,
		ladders: make(map[string]*ladder, len(specs)),
		quotes:  make(map[string]model.Quote),
	}
	for _, spec := range specs {
		a.ladders[spec.Symbol] = &ladder{spec: spec, window: window, rows: make(map[int64]*row)}
	}
	return a
}

// OnTick applies one canonical tick: a spot tick moves the window and ATM
// anchor, an option tick updates the matching row's call or put quote.
// Ticks for instruments outside the window still refresh the quote cache.
func (a *Aggregator) OnTick(tick model.Tick) {
	key := tick.Key()

	a.quoteMu.Lock()
	a.quotes[key] = tick.Quote()
	a.quoteMu.Unlock()

	inst, ok := a.reg.ByKey(key)
	if !ok {
		// Tick for an instrument the registry never handed out — feed noise.
		return
	}

	switch inst.Kind {
	case model.KindUnderlying:
		a.onSpotMove(inst.Underlying, tick.LTP)
	case model.KindCall, model.KindPut:
		a.onOptionTick(inst, tick)
	}
}

// onOptionTick updates the row quote for an in-window option tick.
func (a *Aggregator) onOptionTick(inst model.Instrument, tick model.Tick) {
	l, ok := a.ladders[inst.Underlying]
	if !ok {
		return
	}

	l.mu.Lock()
	r, inWindow := l.rows[inst.Strike]
	if inWindow {
		if inst.Kind == model.KindCall {
			r.callQuote = tick.Quote()
		} else {
			r.putQuote = tick.Quote()
		}
	}
	l.mu.Unlock()

	if inWindow && a.OnRowUpdate != nil {
		a.OnRowUpdate(model.LadderEvent{Underlying: inst.Underlying, Strike: inst.Strike, At: tick.TickTS})
	}
}

// onSpotMove recomputes the ATM anchor and shifts the strike window.
// Newly entering strikes are registered lazily; rows that leave the window
// are evicted and stop receiving row updates (their quotes stay cached).
func (a *Aggregator) onSpotMove(underlying string, newSpot int64) {
	l, ok := a.ladders[underlying]
	if !ok || newSpot <= 0 {
		return
	}

	l.mu.Lock()
	l.spot = newSpot

	newATM := nearestStrike(newSpot, l.spec.StrikeStep)
	atmShifted := newATM != l.atm
	oldATM := l.atm
	l.atm = newATM

	if atmShifted {
		a.shiftWindow(l)
	}
	l.mu.Unlock()

	if atmShifted {
		if a.OnATMShift != nil {
			a.OnATMShift(underlying, oldATM, newATM)
		}
		if a.OnRowUpdate != nil {
			a.OnRowUpdate(model.LadderEvent{Underlying: underlying, At: time.Now().UTC()})
		}
	}
}

// shiftWindow rebuilds l.rows around l.atm. Caller holds l.mu.
func (a *Aggregator) shiftWindow(l *ladder) {
	step := l.spec.StrikeStep
	lo := l.atm - int64(l.window)*step
	hi := l.atm + int64(l.window)*step

	// Evict strikes that fell outside the window. Open positions on them
	// remain tracked by the position book independently.
	for strike := range l.rows {
		if strike < lo || strike > hi {
			delete(l.rows, strike)
		}
	}

	// Register strikes that entered the window.
	for strike := lo; strike <= hi; strike += step {
		if strike <= 0 {
			continue
		}
		if _, ok := l.rows[strike]; ok {
			continue
		}

		call, err := a.reg.Resolve(l.spec.Symbol, strike, model.KindCall, l.spec.Expiry)
		if err != nil {
			log.Printf("[ladder] %s: cannot widen to strike %d: %v", l.spec.Symbol, strike, err)
			continue
		}
		put, err := a.reg.Resolve(l.spec.Symbol, strike, model.KindPut, l.spec.Expiry)
		if err != nil {
			log.Printf("[ladder] %s: cannot widen to strike %d: %v", l.spec.Symbol, strike, err)
			continue
		}

		r := &row{strike: strike, call: call, put: put}
		// Seed quotes from the cache if this instrument traded while
		// outside the window.
		a.quoteMu.RLock()
		r.callQuote = a.quotes[call.Key()]
		r.putQuote = a.quotes[put.Key()]
		a.quoteMu.RUnlock()

		l.rows[strike] = r
	}
}

// nearestStrike returns the strike on the grid nearest to spot; on exact
// equidistance the lower strike wins.
func nearestStrike(spot, step int64) int64 {
	if step <= 0 {
		return 0
	}
	lower := (spot / step) * step
	upper := lower + step
	if spot-lower <= upper-spot {
		return lower
	}
	return upper
}

// Snapshot returns an immutable copy of the underlying's visible ladder,
// rows sorted by strike ascending. ok is false for untracked underlyings.
func (a *Aggregator) Snapshot(underlying string) (model.LadderSnapshot, bool) {
	l, ok := a.ladders[underlying]
	if !ok {
		return model.LadderSnapshot{}, false
	}

	l.mu.Lock()
	snap := model.LadderSnapshot{
		Underlying: underlying,
		Spot:       l.spot,
		ATMStrike:  l.atm,
		Rows:       make([]model.LadderRow, 0, len(l.rows)),
	}
	for _, r := range l.rows {
		snap.Rows = append(snap.Rows, model.LadderRow{
			Strike:    r.strike,
			Call:      r.call,
			Put:       r.put,
			CallQuote: r.callQuote,
			PutQuote:  r.putQuote,
			ATM:       r.strike == l.atm,
		})
	}
	l.mu.Unlock()

	sortRows(snap.Rows)
	return snap, true
}

// Quote returns the latest cached quote for an instrument key. Serves
// both in-window and evicted instruments. Implements model.QuoteSource.
func (a *Aggregator) Quote(instrumentKey string) (model.Quote, bool) {
	a.quoteMu.RLock()
	q, ok := a.quotes[instrumentKey]
	a.quoteMu.RUnlock()
	return q, ok && q.Valid()
}

// Underlyings returns the tracked underlying symbols.
func (a *Aggregator) Underlyings() []string {
	out := make([]string, 0, len(a.ladders))
	for u := range a.ladders {
		out = append(out, u)
	}
	return out
}

// sortRows sorts by strike ascending (insertion sort — windows are small).
func sortRows(rows []model.LadderRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].Strike < rows[j-1].Strike; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}
