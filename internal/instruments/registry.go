// Package instruments provides the canonical catalog of tradeable
// instruments: the tracked underlyings and the option contracts derived
// from them. The registry is append-only; resolving the same
// (underlying, strike, kind, expiry) always yields the same identity.
package instruments

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"scalper-systemv1/internal/model"
)

// ErrUnknownInstrument is returned when a strike/expiry combination was
// never registered and the source cannot supply it either (e.g. the
// ladder was never widened to include it).
var ErrUnknownInstrument = errors.New("unknown instrument")

// Source supplies instrument definitions on a registry miss. A source is
// either the broker's instrument catalog or a synthetic generator for
// simulated sessions.
type Source interface {
	// Lookup returns the option contract definition, or false if the
	// combination does not exist.
	Lookup(underlying string, strike int64, kind model.Kind, expiry time.Time) (model.Instrument, bool)

	// Spot returns the underlying's own instrument, or false if the
	// underlying is not tracked.
	Spot(underlying string) (model.Instrument, bool)
}

// Registry is the canonical instrument catalog. Lookups are safe for
// concurrent use; registration of a brand-new instrument is serialized so
// the same (strike, expiry, kind) never produces two identities.
type Registry struct {
	mu      sync.RWMutex
	byIdent map[string]model.Instrument // identity key → instrument
	byKey   map[string]model.Instrument // "exchange:token" → instrument
	src     Source
}

// New creates a Registry backed by the given source.
func New(src Source) *Registry {
	return &Registry{
		byIdent: make(map[string]model.Instrument),
		byKey:   make(map[string]model.Instrument),
		src:     src,
	}
}

// identKey builds the logical identity key for an option contract.
func identKey(underlying string, strike int64, kind model.Kind, expiry time.Time) string {
	return fmt.Sprintf("%s|%d|%s|%s", underlying, strike, kind, expiry.Format("2006-01-02"))
}

// Resolve returns the instrument for (underlying, strike, kind, expiry),
// lazily registering it from the source on first use. Idempotent: repeated
// calls return the same identity.
func (r *Registry) Resolve(underlying string, strike int64, kind model.Kind, expiry time.Time) (model.Instrument, error) {
	if kind != model.KindCall && kind != model.KindPut {
		return model.Instrument{}, fmt.Errorf("resolve %s %d: kind %q: %w", underlying, strike, kind, ErrUnknownInstrument)
	}

	ident := identKey(underlying, strike, kind, expiry)

	r.mu.RLock()
	inst, ok := r.byIdent[ident]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock: another caller may have registered
	// the same contract between the RUnlock and the Lock.
	if inst, ok := r.byIdent[ident]; ok {
		return inst, nil
	}

	inst, ok = r.src.Lookup(underlying, strike, kind, expiry)
	if !ok {
		return model.Instrument{}, fmt.Errorf("%s %d %s %s: %w",
			underlying, strike, kind, expiry.Format("2006-01-02"), ErrUnknownInstrument)
	}

	r.byIdent[ident] = inst
	r.byKey[inst.Key()] = inst
	return inst, nil
}

// SpotInstrument returns the underlying's own instrument.
func (r *Registry) SpotInstrument(underlying string) (model.Instrument, error) {
	ident := "SPOT|" + underlying

	r.mu.RLock()
	inst, ok := r.byIdent[ident]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.byIdent[ident]; ok {
		return inst, nil
	}

	inst, ok = r.src.Spot(underlying)
	if !ok {
		return model.Instrument{}, fmt.Errorf("spot %s: %w", underlying, ErrUnknownInstrument)
	}

	r.byIdent[ident] = inst
	r.byKey[inst.Key()] = inst
	return inst, nil
}

// ByKey returns the registered instrument for an "exchange:token" key.
// Used to route incoming ticks back to instruments.
func (r *Registry) ByKey(key string) (model.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byKey[key]
	return inst, ok
}

// Known returns a snapshot of every registered instrument.
func (r *Registry) Known() []model.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Instrument, 0, len(r.byKey))
	for _, inst := range r.byKey {
		out = append(out, inst)
	}
	return out
}
