package gateway

import "sync"

// replayEntry is one broadcast envelope retained for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer retains the most recent envelopes of one channel so a
// terminal that detects a sequence gap (ladder frames dropped during a
// reconnect, typically) can backfill instead of waiting for the next
// snapshot. Ring semantics: when full, the oldest envelope is overwritten.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	next    int // ring write cursor
	size    int // entries currently held, ≤ cap(entries)
}

// NewReplayBuffer creates a buffer retaining up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push retains one envelope. The data is copied; the broadcaster reuses
// its encode buffer.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.entries[rb.next] = replayEntry{Seq: seq, Data: cp}
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.size < len(rb.entries) {
		rb.size++
	}
	rb.mu.Unlock()
}

// Range returns the retained envelopes with seq in [fromSeq, toSeq],
// oldest first. Sequences are pushed in increasing order, so the scan
// stops at the first entry past toSeq.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.size; i++ {
		e := rb.entries[rb.oldest(i)]
		if e.Seq > toSeq {
			break
		}
		if e.Seq >= fromSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// oldest maps a logical index (0 = oldest retained) to a ring position.
func (rb *ReplayBuffer) oldest(logical int) int {
	if rb.size < len(rb.entries) {
		return logical
	}
	return (rb.next + logical) % len(rb.entries)
}
