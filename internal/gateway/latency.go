package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker keeps a sliding window of broadcast latency samples
// (milliseconds) and answers percentile queries over it. Old samples
// fall off the back of the ring once the window is full.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []float64
	head int // next write slot
	n    int // samples held, ≤ len(ring)
}

// NewLatencyTracker sizes the sample window. A non-positive capacity
// gets the default of 10000 samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, capacity)}
}

// Record appends one latency sample in milliseconds.
func (lt *LatencyTracker) Record(latencyMs float64) {
	lt.mu.Lock()
	lt.ring[lt.head] = latencyMs
	lt.head = (lt.head + 1) % len(lt.ring)
	if lt.n < len(lt.ring) {
		lt.n++
	}
	lt.mu.Unlock()
}

// Count reports how many samples the window currently holds.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.n
}

// Percentiles returns the p50, p95 and p99 of the current window, or
// all zeros when no samples have been recorded yet.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	snap := lt.snapshot()
	if len(snap) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(snap)
	return quantile(snap, 0.50), quantile(snap, 0.95), quantile(snap, 0.99)
}

// snapshot copies the live samples out so sorting happens off-lock.
func (lt *LatencyTracker) snapshot() []float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.n == 0 {
		return nil
	}
	out := make([]float64, lt.n)
	if lt.n < len(lt.ring) {
		copy(out, lt.ring[:lt.n])
		return out
	}
	// Full ring: oldest sample sits at the write cursor.
	k := copy(out, lt.ring[lt.head:])
	copy(out[k:], lt.ring[:lt.head])
	return out
}

// quantile linearly interpolates the q-th quantile of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	last := len(sorted) - 1
	if last <= 0 {
		return sorted[0]
	}
	pos := q * float64(last)
	lo := int(math.Floor(pos))
	if lo >= last {
		return sorted[last]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
