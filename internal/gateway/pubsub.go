package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// PubSubRouter bridges the engine's Redis PubSub channels into the
// hub's WebSocket fan-out.
type PubSubRouter struct {
	hub *Hub
}

func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// RunExplicit drains the configured ladder, position, pnl and order
// channels until ctx is cancelled.
func (r *PubSubRouter) RunExplicit(ctx context.Context) {
	channels := r.hub.buildChannels()
	if len(channels) == 0 {
		log.Println("[gateway] WARNING: no explicit channels to subscribe to")
		return
	}

	pubsub := r.hub.Rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()
	log.Printf("[gateway] subscribed to %d PubSub channels", len(channels))

	r.drain(ctx, pubsub, func(string) bool { return true })
}

// RunPattern covers ladder channels for underlyings added after the
// gateway started, via a wildcard subscription. A channel the explicit
// route already carries is skipped here; even if both deliver, the
// per-channel seq keeps replays idempotent on the client.
func (r *PubSubRouter) RunPattern(ctx context.Context) {
	pubsub := r.hub.Rdb.PSubscribe(ctx, "pub:ladder:*")
	defer pubsub.Close()

	r.drain(ctx, pubsub, func(channel string) bool {
		return !r.hub.isExplicit(channel)
	})
}

// drain forwards messages passing the filter to the broadcaster until
// the context ends or Redis closes the subscription.
func (r *PubSubRouter) drain(ctx context.Context, pubsub *goredis.PubSub, accept func(channel string) bool) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if accept(msg.Channel) {
				r.hub.broadcast(msg.Channel, []byte(msg.Payload))
			}
		}
	}
}
