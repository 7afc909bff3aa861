package kiteconnect

import (
	"context"
	"fmt"
	"log"
	"time"

	"scalper-systemv1/internal/model"
)

// defaultPollInterval is how often the venue polls the broker for order
// confirmation. Kite has no push channel for order state on this tier.
const defaultPollInterval = 500 * time.Millisecond

// Venue routes live orders through the broker. It implements
// model.ExecutionVenue: Place returns once the order is accepted, then a
// background poller delivers exactly one fill or reject via done.
type Venue struct {
	client       *Client
	pollInterval time.Duration
}

// NewVenue wraps a logged-in client as an execution venue.
func NewVenue(client *Client) *Venue {
	return &Venue{client: client, pollInterval: defaultPollInterval}
}

// Place submits a market order. Quantity is converted from lots to units
// using the instrument's lot size.
func (v *Venue) Place(ctx context.Context, req model.OrderRequest, done func(model.ExecutionResult)) error {
	units := req.Qty * req.Instrument.LotSize
	brokerID, err := v.client.PlaceOrder(ctx, OrderParams{
		Exchange:        req.Instrument.Exchange,
		TradingSymbol:   req.Instrument.TradingSymbol,
		TransactionType: string(req.Type),
		Quantity:        units,
		Tag:             req.OrderID,
	})
	if err != nil {
		return fmt.Errorf("place %s: %w", req.OrderID, err)
	}
	log.Printf("[live] order %s routed as broker order %s (%d units)", req.OrderID, brokerID, units)

	go v.await(ctx, req, brokerID, done)
	return nil
}

// await polls the broker until the order reaches a terminal state, then
// invokes done exactly once. Context cancellation attempts a broker-side
// cancel and reports a reject.
func (v *Venue) await(ctx context.Context, req model.OrderRequest, brokerID string, done func(model.ExecutionResult)) {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := v.client.CancelOrder(cancelCtx, brokerID); err != nil {
				log.Printf("[live] cancel of broker order %s failed: %v", brokerID, err)
			}
			cancel()
			done(model.ExecutionResult{Reject: &model.RejectEvent{
				OrderID:    req.OrderID,
				Reason:     "order cancelled",
				RejectedAt: time.Now().UTC(),
			}})
			return

		case <-ticker.C:
			history, err := v.client.OrderHistory(ctx, brokerID)
			if err != nil {
				log.Printf("[live] order %s status poll failed: %v", brokerID, err)
				continue
			}
			if len(history) == 0 {
				continue
			}
			latest := history[len(history)-1]

			switch latest.Status {
			case "COMPLETE":
				lots := latest.FilledQuantity / req.Instrument.LotSize
				if lots == 0 {
					lots = req.Qty
				}
				done(model.ExecutionResult{Fill: &model.FillEvent{
					OrderID:  req.OrderID,
					Price:    paise(latest.AveragePrice),
					Qty:      lots,
					FilledAt: time.Now().UTC(),
				}})
				return

			case "REJECTED", "CANCELLED":
				reason := latest.StatusMessage
				if reason == "" {
					reason = "order " + latest.Status
				}
				done(model.ExecutionResult{Reject: &model.RejectEvent{
					OrderID:    req.OrderID,
					Reason:     reason,
					RejectedAt: time.Now().UTC(),
				}})
				return
			}
		}
	}
}
