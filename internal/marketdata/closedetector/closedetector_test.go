package closedetector

import (
	"testing"
	"time"
)

var bell = time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC) // 15:30 IST

func TestDetector_CapturesStableClose(t *testing.T) {
	d := New(bell)
	d.StableFor = 3 * time.Second

	// Pre-close ticks never end the session, moving or not.
	if d.Observe(2450000, bell.Add(-30*time.Second)) {
		t.Fatal("disconnected before the close")
	}

	// Spot still drifting after the bell.
	if d.Observe(2450500, bell.Add(1*time.Second)) {
		t.Error("disconnected while spot was still moving")
	}
	if d.Observe(2451000, bell.Add(2*time.Second)) {
		t.Error("disconnected while spot was still moving")
	}

	// Constant, but not yet for StableFor.
	if d.Observe(2451000, bell.Add(3*time.Second)) {
		t.Error("disconnected after only 1s of stability")
	}

	// Constant for the full window.
	if !d.Observe(2451000, bell.Add(5*time.Second)) {
		t.Error("expected disconnect once spot held for StableFor")
	}
	if d.ClosingPrice() != 2451000 {
		t.Errorf("ClosingPrice() = %d, want 2451000", d.ClosingPrice())
	}
}

func TestDetector_GraceDeadlineForcesDisconnect(t *testing.T) {
	d := New(bell)
	d.MaxGrace = 90 * time.Second

	// Spot churning inside the grace window keeps the feed alive.
	if d.Observe(2450000, bell.Add(1*time.Minute)) {
		t.Error("disconnected inside the grace window")
	}

	// Past the deadline the session ends even mid-churn.
	if !d.Observe(2452500, bell.Add(2*time.Minute)) {
		t.Error("expected forced disconnect past MaxGrace")
	}
}

func TestDetector_MoveRestartsStabilityClock(t *testing.T) {
	d := New(bell)
	d.StableFor = 2 * time.Second

	d.Observe(2450000, bell.Add(1*time.Second))
	d.Observe(2450000, bell.Add(2*time.Second))

	// One more move wipes the accumulated stability.
	d.Observe(2450500, bell.Add(2500*time.Millisecond))

	if d.Observe(2450500, bell.Add(3*time.Second)) {
		t.Error("disconnected 0.5s after a fresh move")
	}
	if !d.Observe(2450500, bell.Add(4500*time.Millisecond)) {
		t.Error("expected disconnect 2s after the last move")
	}
}

func TestDetector_IsPostClose(t *testing.T) {
	d := New(bell)
	if d.IsPostClose(bell.Add(-time.Second)) {
		t.Error("IsPostClose true before the bell")
	}
	if !d.IsPostClose(bell.Add(time.Second)) {
		t.Error("IsPostClose false after the bell")
	}
}
