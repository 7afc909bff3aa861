// Package ws bridges the websocket market feed into the engine. The feed
// callback only pushes into an SPSC ring buffer; a consumer goroutine
// drains the ring, applies sequence gating, and hands canonical ticks to
// the pipeline. A stalled pipeline therefore never blocks the socket read.
package ws

import (
	"context"
	"fmt"
	"log"
	"time"

	"scalper-systemv1/internal/marketdata/normalizer"
	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/ringbuf"
	"scalper-systemv1/pkg/kiteconnect"
)

// drainInterval is how long the consumer sleeps when the ring is empty.
const drainInterval = 500 * time.Microsecond

// IngestConfig holds configuration for the feed ingest.
type IngestConfig struct {
	FeedURL     string
	APIKey      string
	AccessToken string

	// Tokens to subscribe at connect time. More can be added later via
	// Subscribe (the ladder does this when the window shifts).
	Tokens []string

	// RingCapacity sizes the feed ring buffer. Default 8192.
	RingCapacity int
}

// Ingest connects the websocket feed to the tick pipeline.
type Ingest struct {
	cfg    IngestConfig
	ticker *kiteconnect.Ticker
	ring   *ringbuf.Ring
	norm   *normalizer.Normalizer

	// Optional metrics hooks.
	OnReconnect func()
	OnRingDrop  func()
}

// New creates an Ingest with its own ring buffer and normalizer.
func New(cfg IngestConfig) (*Ingest, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("ws ingest: feed URL required")
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 8192
	}
	return &Ingest{
		cfg:    cfg,
		ticker: kiteconnect.NewTicker(cfg.FeedURL, cfg.APIKey, cfg.AccessToken),
		ring:   ringbuf.New(cfg.RingCapacity),
		norm:   normalizer.New(),
	}, nil
}

// Normalizer exposes the sequence gate for metrics wiring.
func (ing *Ingest) Normalizer() *normalizer.Normalizer { return ing.norm }

// RingOverflow returns how many feed frames were dropped at the ring.
func (ing *Ingest) RingOverflow() uint64 { return ing.ring.Overflow() }

// Subscribe adds instrument tokens to the live subscription.
func (ing *Ingest) Subscribe(tokens []string) error {
	return ing.ticker.Subscribe(tokens)
}

// Unsubscribe drops instrument tokens from the live subscription.
func (ing *Ingest) Unsubscribe(tokens []string) error {
	return ing.ticker.Unsubscribe(tokens)
}

// Start connects the feed and streams gated ticks into tickCh until ctx is
// cancelled. Blocks.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	ing.ticker.OnTick = func(u model.RawUpdate) {
		if !ing.ring.Push(u) {
			if ing.OnRingDrop != nil {
				ing.OnRingDrop()
			}
		}
	}
	ing.ticker.OnConnect = func() {
		log.Printf("[ws] feed connected")
	}
	ing.ticker.OnClose = func() {
		log.Println("[ws] feed connection closed")
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}

	if len(ing.cfg.Tokens) > 0 {
		if err := ing.ticker.Subscribe(ing.cfg.Tokens); err != nil {
			log.Printf("[ws] initial subscribe deferred: %v", err)
		}
	}

	go ing.drain(ctx, tickCh)

	defer ing.ticker.Close()
	return ing.ticker.Serve(ctx)
}

// drain pops raw updates from the ring, gates them, and forwards canonical
// ticks. Forwarding is non-blocking: the pipeline channel carries its own
// drop accounting.
func (ing *Ingest) drain(ctx context.Context, tickCh chan<- model.Tick) {
	for {
		if ctx.Err() != nil {
			return
		}
		u, ok := ing.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainInterval):
			}
			continue
		}

		tick, ok := ing.norm.Apply(u)
		if !ok {
			continue
		}
		select {
		case tickCh <- tick:
		default:
			log.Println("[ws] tick channel full, dropping tick")
		}
	}
}
