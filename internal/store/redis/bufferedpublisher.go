package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"scalper-systemv1/internal/model"
)

// pendingPublish is a broadcast that was buffered during circuit-open state.
type pendingPublish struct {
	Kind string // "ladder", "order"
	Data []byte // JSON-encoded payload
}

// BufferedPublisher wraps a Publisher with a circuit breaker. During
// circuit-open state, broadcasts are buffered locally and flushed when the
// circuit closes again. Order updates must not be lost across a Redis blip;
// ladder snapshots are cheap to buffer and the newest one wins on replay
// anyway since each carries the full window.
type BufferedPublisher struct {
	pub *Publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingPublish
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when a publish is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered publishes
}

// NewBufferedPublisher creates a BufferedPublisher wrapping the given Publisher.
func NewBufferedPublisher(ctx context.Context, p *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    p,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingPublish, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}

	return bp
}

// PublishLadder publishes a ladder snapshot through the circuit breaker.
// If the circuit is open, the snapshot is buffered locally.
func (bp *BufferedPublisher) PublishLadder(snap model.LadderSnapshot) error {
	err := bp.cb.Execute(func() error {
		bp.pub.PublishLadder(bp.ctx, snap)
		return nil // PublishLadder logs errors internally
	})
	if err == ErrCircuitOpen {
		bp.bufferPublish("ladder", snap)
		return nil // buffered, not lost
	}
	return err
}

// PublishOrder publishes an order update through the circuit breaker.
func (bp *BufferedPublisher) PublishOrder(update model.OrderUpdate) error {
	err := bp.cb.Execute(func() error {
		bp.pub.PublishOrder(bp.ctx, update)
		return nil
	})
	if err == ErrCircuitOpen {
		bp.bufferPublish("order", update)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferPublish(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-publisher] marshal error: %v", err)
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		// Buffer full — drop oldest
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingPublish{Kind: kind, Data: data})

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered publishes through the underlying publisher.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bp.buffer
	bp.buffer = make([]pendingPublish, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for _, pp := range toFlush {
		switch pp.Kind {
		case "ladder":
			var snap model.LadderSnapshot
			if json.Unmarshal(pp.Data, &snap) == nil {
				bp.pub.PublishLadder(bp.ctx, snap)
			}
		case "order":
			var u model.OrderUpdate
			if json.Unmarshal(pp.Data, &u) == nil {
				bp.pub.PublishOrder(bp.ctx, u)
			}
		}
		flushed++
	}

	log.Printf("[buffered-publisher] flushed %d buffered publishes", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered publishes waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Underlying returns the wrapped publisher for direct access.
func (bp *BufferedPublisher) Underlying() *Publisher {
	return bp.pub
}
