// Package paper simulates order execution against the live ladder quote
// without touching real capital. Buys cross the spread and fill at the
// best ask, sells at the best bid, optionally degraded by a configured
// slippage and delayed by a configured artificial latency.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"scalper-systemv1/internal/model"
)

// ErrNoQuoteAvailable is returned when a paper fill is attempted before
// any tick has arrived for the instrument (e.g. a strike that just entered
// the window). The caller may retry after a short wait.
var ErrNoQuoteAvailable = errors.New("no quote available")

// Simulator is an ExecutionVenue that fills orders from the quote source.
type Simulator struct {
	quotes      model.QuoteSource
	slippageBps int64         // basis points of slippage (e.g., 5 = 0.05%)
	latency     time.Duration // artificial delay before the fill event
	account     *Account      // optional simulated cash account
}

// NewSimulator creates a paper execution simulator.
func NewSimulator(quotes model.QuoteSource, slippageBps int64, latency time.Duration, account *Account) *Simulator {
	return &Simulator{
		quotes:      quotes,
		slippageBps: slippageBps,
		latency:     latency,
		account:     account,
	}
}

// Place implements model.ExecutionVenue. The fill price is derived from
// the current quote at call time; the fill event is delivered after the
// configured latency on a timer goroutine, so the caller is never held up.
func (s *Simulator) Place(ctx context.Context, req model.OrderRequest, done func(model.ExecutionResult)) error {
	quote, ok := s.quotes.Quote(req.Instrument.Key())
	if !ok {
		return fmt.Errorf("paper fill %s: %w", req.Instrument.TradingSymbol, ErrNoQuoteAvailable)
	}

	// Crossing-the-spread model: a buy lifts the ask, a sell hits the bid.
	var price int64
	if req.Type == model.TransactionBuy {
		price = quote.Ask
	} else {
		price = quote.Bid
	}
	if price <= 0 {
		// One-sided book (e.g. feed sent only LTP) — fall back to last trade.
		price = quote.LTP
	}
	if price <= 0 {
		return fmt.Errorf("paper fill %s: %w", req.Instrument.TradingSymbol, ErrNoQuoteAvailable)
	}

	slippage := int64(0)
	if s.slippageBps > 0 {
		slippage = price * s.slippageBps / 10000
		if req.Type == model.TransactionBuy {
			price += slippage // buy worse: higher
		} else {
			price -= slippage // sell worse: lower
		}
	}

	fill := model.FillEvent{
		OrderID:  req.OrderID,
		Price:    price,
		Qty:      req.Qty,
		Slippage: slippage,
		FilledAt: time.Now().UTC().Add(s.latency),
	}

	time.AfterFunc(s.latency, func() {
		if ctx.Err() != nil {
			// Intent was cancelled while the fill was in flight.
			done(model.ExecutionResult{Reject: &model.RejectEvent{
				OrderID:    req.OrderID,
				Reason:     "cancelled before simulated fill",
				RejectedAt: time.Now().UTC(),
			}})
			return
		}
		if s.account != nil {
			s.account.applyFill(req.Type, req.Qty*req.Instrument.LotSize, price)
		}
		log.Printf("[paper] %s %d %s @ %d (slip=%d) order=%s",
			req.Type, req.Qty, req.Instrument.TradingSymbol, price, slippage, req.OrderID)
		done(model.ExecutionResult{Fill: &fill})
	})

	return nil
}
