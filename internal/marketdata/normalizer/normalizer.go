// Package normalizer converts raw feed updates into canonical ticks and
// enforces per-instrument sequence ordering. Everything downstream may
// assume ticks arrive in strictly increasing sequence per instrument;
// reordered or duplicated feed traffic is absorbed here and never
// propagated as a failure.
package normalizer

import (
	"log"
	"sync/atomic"

	"scalper-systemv1/internal/model"
)

// Normalizer gates raw updates by sequence number. It is driven by the
// single feed goroutine; its state needs no locking.
type Normalizer struct {
	lastSeq map[string]int64 // instrument key → last applied sequence

	outOfOrder atomic.Uint64
	duplicates atomic.Uint64

	// OnAnomaly is called for every out-of-order update (optional metrics hook).
	OnAnomaly func()
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{lastSeq: make(map[string]int64)}
}

// Apply gates one raw update. Returns the canonical tick and true if the
// update advances the instrument's sequence; false if it was a duplicate
// (equal sequence, dropped silently) or out of order (lower sequence,
// counted and logged as an anomaly).
func (n *Normalizer) Apply(raw model.RawUpdate) (model.Tick, bool) {
	key := raw.Key()
	last, seen := n.lastSeq[key]

	if seen && raw.Seq <= last {
		if raw.Seq == last {
			// Idempotent replay: the feed re-delivered the same update.
			n.duplicates.Add(1)
			return model.Tick{}, false
		}
		n.outOfOrder.Add(1)
		if n.OnAnomaly != nil {
			n.OnAnomaly()
		}
		log.Printf("[normalizer] out-of-order update for %s: seq=%d last=%d, dropped", key, raw.Seq, last)
		return model.Tick{}, false
	}

	n.lastSeq[key] = raw.Seq
	return model.Tick{
		Token:    raw.Token,
		Exchange: raw.Exchange,
		LTP:      raw.LTP,
		Bid:      raw.Bid,
		Ask:      raw.Ask,
		Seq:      raw.Seq,
		TickTS:   raw.TickTS.UTC(),
	}, true
}

// OutOfOrder returns the count of dropped lower-sequence updates.
func (n *Normalizer) OutOfOrder() uint64 { return n.outOfOrder.Load() }

// Duplicates returns the count of dropped equal-sequence updates.
func (n *Normalizer) Duplicates() uint64 { return n.duplicates.Load() }
