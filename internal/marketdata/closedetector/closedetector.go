// Package closedetector decides when the post-bell feed can be dropped.
// NSE keeps publishing ticks for a short while after 15:30; the spot
// settles on its closing print and then stops moving. The detector
// watches for that settling and caps the wait with a hard deadline.
package closedetector

import (
	"log"
	"time"
)

const (
	defaultStableFor = 30 * time.Second
	defaultMaxGrace  = 5 * time.Minute
)

// Detector tracks post-close spot ticks and reports when the closing
// price is in hand.
type Detector struct {
	closeTime   time.Time // the 15:30 IST bell
	lastPrice   int64
	stableSince time.Time

	// StableFor is how long the spot must print the same price before
	// it counts as the close.
	StableFor time.Duration

	// MaxGrace bounds the wait: past closeTime+MaxGrace the session
	// ends whether or not the price settled.
	MaxGrace time.Duration
}

// New builds a detector anchored at the given close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: defaultStableFor,
		MaxGrace:  defaultMaxGrace,
	}
}

// IsPostClose reports whether now is past the bell.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe feeds one spot tick. It returns true when the feed should be
// dropped: either the price held steady for StableFor after the bell,
// or the grace window ran out.
func (d *Detector) Observe(tickPrice int64, now time.Time) bool {
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		log.Printf("[closedetector] grace window %v exhausted, dropping feed", d.MaxGrace)
		return true
	}

	if !d.IsPostClose(now) {
		// Session still live; just track the latest print.
		d.lastPrice = tickPrice
		return false
	}

	switch {
	case tickPrice != d.lastPrice:
		d.lastPrice = tickPrice
		d.stableSince = now
	case d.stableSince.IsZero():
		d.stableSince = now
	case now.Sub(d.stableSince) >= d.StableFor:
		log.Printf("[closedetector] close captured at %d after %v of stability",
			d.lastPrice, d.StableFor)
		return true
	}
	return false
}

// ClosingPrice returns the last observed print.
func (d *Detector) ClosingPrice() int64 {
	return d.lastPrice
}
