// Package ringbuf is the lock-free single-producer single-consumer
// queue between the feed socket callback and the normalizer loop. The
// socket side must never block: when the consumer falls behind, pushes
// are dropped and counted instead of queued.
package ringbuf

import (
	"sync/atomic"

	"scalper-systemv1/internal/model"
)

// cacheLine pads the producer and consumer cursors onto separate
// x86-64 cache lines so they don't false-share.
const cacheLine = 64

// Ring is an SPSC ring of raw feed updates. The backing slice length
// is always a power of two so index wrapping is a single mask.
type Ring struct {
	buf  []model.RawUpdate
	mask uint64

	_pad0 [cacheLine]byte
	head  atomic.Uint64 // producer cursor
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // consumer cursor
	_pad2 [cacheLine]byte

	dropped atomic.Uint64
}

// New allocates a ring holding at least capacity updates, rounded up
// to a power of two (minimum 2).
func New(capacity int) *Ring {
	size := ceilPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:  make([]model.RawUpdate, size),
		mask: uint64(size - 1),
	}
}

// Push enqueues one update without blocking. A full ring drops the
// update, bumps the overflow counter and returns false.
func (r *Ring) Push(u model.RawUpdate) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[head&r.mask] = u
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest update without blocking. The second return
// is false when the ring is empty.
func (r *Ring) Pop() (model.RawUpdate, bool) {
	tail := r.tail.Load()
	if tail >= r.head.Load() {
		return model.RawUpdate{}, false
	}
	u := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return u, true
}

// Len returns the number of queued updates.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the ring's capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns how many pushes have been dropped against a full
// ring since creation.
func (r *Ring) Overflow() uint64 {
	return r.dropped.Load()
}

// ceilPow2 rounds n up to the nearest power of two.
func ceilPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
