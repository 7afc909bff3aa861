package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"scalper-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Order stream trimming: a scalping session rarely exceeds a few
	// hundred intents, keep a day's worth with headroom.
	orderStreamMaxLen = 5000
	defaultLatestTTL  = 30 * time.Minute

	pipelineLatencyKey = "metrics:scalperd:pipeline_ms"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher pushes ladder, position, P&L, and order snapshots to Redis so
// the gateway can relay them to terminal clients. Latest keys let a fresh
// client render immediately; PubSub carries the live stream.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Redis Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PositionsPayload is the wire shape of a position book broadcast.
type PositionsPayload struct {
	Mode      model.Mode       `json:"mode"`
	Positions []model.Position `json:"positions"`
	TS        int64            `json:"ts"` // unix ms
}

// PnLPayload is the wire shape of a P&L broadcast.
type PnLPayload struct {
	Mode            model.Mode          `json:"mode"`
	TotalUnrealized int64               `json:"total_unrealized"` // paise
	Realized        int64               `json:"realized"`         // paise, session total
	Snapshots       []model.PnLSnapshot `json:"snapshots"`
	TS              int64               `json:"ts"`
}

// PublishLadder performs pipelined writes for one ladder snapshot:
// SET latest with TTL plus PUBLISH for live subscribers.
func (p *Publisher) PublishLadder(ctx context.Context, snap model.LadderSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[redis] marshal ladder %s: %v", snap.Underlying, err)
		return
	}
	jsonData := string(data)

	latestKey := "ladder:latest:" + snap.Underlying
	pubsubCh := "pub:ladder:" + snap.Underlying

	pipe := p.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] ladder pipeline error for %s: %v", snap.Underlying, err)
	}
}

// PublishPositions broadcasts the open position set for one mode.
func (p *Publisher) PublishPositions(ctx context.Context, mode model.Mode, positions []model.Position) {
	payload := PositionsPayload{
		Mode:      mode,
		Positions: positions,
		TS:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis] marshal positions %s: %v", mode, err)
		return
	}
	jsonData := string(data)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, "positions:latest:"+string(mode), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:position:"+string(mode), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] positions pipeline error for %s: %v", mode, err)
	}
}

// PublishPnL broadcasts per-position unrealized P&L plus the session totals
// for one mode.
func (p *Publisher) PublishPnL(ctx context.Context, mode model.Mode, totalUnrealized, realized int64, snaps []model.PnLSnapshot) {
	payload := PnLPayload{
		Mode:            mode,
		TotalUnrealized: totalUnrealized,
		Realized:        realized,
		Snapshots:       snaps,
		TS:              time.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis] marshal pnl %s: %v", mode, err)
		return
	}
	jsonData := string(data)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, "pnl:latest:"+string(mode), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:pnl:"+string(mode), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] pnl pipeline error for %s: %v", mode, err)
	}
}

// PublishOrder appends one order update to the mode's audit stream and
// publishes it for live subscribers.
func (p *Publisher) PublishOrder(ctx context.Context, update model.OrderUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[redis] marshal order %s: %v", update.OrderID, err)
		return
	}
	jsonData := string(data)

	streamKey := "orders:" + string(update.Mode)
	pubsubCh := "pub:order:" + string(update.Mode)

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: orderStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] order pipeline error for %s: %v", update.OrderID, err)
	}
}

// orderCommandChannel carries place/cancel instructions from the gateway
// process to the engine.
const orderCommandChannel = "cmd:orders"

// RunCommands subscribes to the order command channel and dispatches each
// parsed command to handler. Blocks until ctx is cancelled.
func (p *Publisher) RunCommands(ctx context.Context, handler func(model.OrderCommand)) {
	sub := p.client.Subscribe(ctx, orderCommandChannel)
	defer sub.Close()

	ch := sub.Channel()
	log.Printf("[redis] listening for order commands on %s", orderCommandChannel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd model.OrderCommand
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				log.Printf("[redis] bad order command: %v", err)
				continue
			}
			handler(cmd)
		}
	}
}

// WritePipelineLatency records the latest tick-to-publish latency so the
// gateway can surface it on /api/metrics.
func (p *Publisher) WritePipelineLatency(ctx context.Context, ms float64) {
	err := p.client.Set(ctx, pipelineLatencyKey, strconv.FormatFloat(ms, 'f', 3, 64), time.Minute).Err()
	if err != nil {
		log.Printf("[redis] pipeline latency write error: %v", err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
