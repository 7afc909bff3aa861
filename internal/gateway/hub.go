package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"scalper-systemv1/internal/markethours"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// TerminalSettings is the shared terminal configuration pushed to every
// connected client (trading mode, ladder width, default order size).
type TerminalSettings struct {
	Mode         string `json:"mode"` // live or paper
	LadderWindow int    `json:"ladder_window"`
	DefaultQty   int64  `json:"default_qty"` // lots
}

// latestEntry is the most recent payload retained per channel, used
// for first paint and reconnect catch-up.
type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub connects the Redis side (engine broadcasts) to the WebSocket
// side (terminal clients). The moving parts are split out:
//   - PubSubRouter drains the Redis subscriptions
//   - Broadcaster envelopes payloads and fans them out
//   - SettingsStore persists and pushes terminal settings
type Hub struct {
	Rdb         *goredis.Client
	Underlyings []string
	Modes       []string

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64            // global envelope counter
	channelSeqs map[string]int64 // per-channel, used for gap detection
	replayBufs  map[string]*ReplayBuffer

	settings TerminalSettings

	// Latency samples tick-timestamp-to-fan-out delay.
	Latency *LatencyTracker

	Router      *PubSubRouter
	Broadcaster *Broadcaster
	Settings    *SettingsStore
}

// NewHub builds a hub serving the given underlyings and trading modes.
func NewHub(rdb *goredis.Client, underlyings, modes []string, defaults TerminalSettings) *Hub {
	h := &Hub{
		Rdb:         rdb,
		Underlyings: underlyings,
		Modes:       modes,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Latency:     NewLatencyTracker(10000),
		settings:    defaults,
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	h.Settings = NewSettingsStore(h, rdb)

	// Pick up settings persisted by a previous gateway run.
	h.Settings.Load(context.Background())
	return h
}

// Run drives both PubSub routes until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	go h.Router.RunPattern(ctx)
	h.Router.RunExplicit(ctx)
}

// buildChannels lists the explicit PubSub channels for the configured
// underlyings and modes.
func (h *Hub) buildChannels() []string {
	channels := make([]string, 0, len(h.Underlyings)+3*len(h.Modes))
	for _, u := range h.Underlyings {
		channels = append(channels, "pub:ladder:"+u)
	}
	for _, m := range h.Modes {
		channels = append(channels,
			"pub:position:"+m,
			"pub:pnl:"+m,
			"pub:order:"+m,
		)
	}
	return channels
}

// isExplicit reports whether a channel is already covered by the
// explicit subscription, so the pattern route does not deliver it twice.
func (h *Hub) isExplicit(channel string) bool {
	for _, ch := range h.buildChannels() {
		if ch == channel {
			return true
		}
	}
	return false
}

func (h *Hub) broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWSRequest registers an upgraded connection and starts its
// pumps. lastTS, when set, limits the initial state push to channels
// that changed since the client last saw them.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
}

// RemoveClient drops a client and releases its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// GetLatestAll snapshots the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns retained envelopes for a channel with seq in
// [fromSeq, toSeq], for the gap-backfill REST endpoint.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb := h.replayBufs[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// GetChannelSeq returns a channel's current sequence number.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartMetricsBroadcast pushes system metrics and market state to all
// clients every 2s. Blocks until ctx is cancelled.
func (h *Hub) StartMetricsBroadcast(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pushMetrics(ctx, start)
		}
	}
}

func (h *Hub) pushMetrics(ctx context.Context, start time.Time) {
	now := time.Now()
	m := CollectMetrics(start)
	if v, ok := ReadPipelineLatency(ctx, h.Rdb); ok {
		m.PipelineMs = v
	}
	if h.Latency != nil {
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = h.Latency.Percentiles()
	}
	frame, _ := json.Marshal(map[string]interface{}{
		"type":         "metrics",
		"metrics":      m,
		"marketOpen":   markethours.IsMarketOpen(now),
		"marketStatus": markethours.StatusString(now),
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.enqueue(frame)
	}
}
