// cmd/tickserver — simulated market data feed.
//
// Speaks the same wire protocol as the live ticker: clients send
// {"a":"subscribe","v":[tokens]} frames and receive raw update JSON
// ({token, exchange, ltp, bid, ask, seq, tick_ts}, prices in paise).
// The spot price random-walks; option premiums are derived from spot
// moneyness, so the ladder behaves like a real chain during rehearsal.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  — listen address (default ":9001")
//	UNDERLYINGS       — same format as the engine's (default "NIFTY:256265:NSE:25:50")
//	SPOT_RUPEES       — starting spot per symbol (default "NIFTY:24500")
//	TICK_INTERVAL_MS  — broadcast interval milliseconds (default "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"scalper-systemv1/config"
	"scalper-systemv1/internal/instruments"
	"scalper-systemv1/internal/model"

	"github.com/gorilla/websocket"
)

// subscribeMsg mirrors the ticker client's control frame.
type subscribeMsg struct {
	Action string   `json:"a"`
	Tokens []string `json:"v"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

func (c *client) subscribed(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[token]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Tokens {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Tokens {
			delete(c.subs, t)
		}
	}
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// wantedTokens returns the union of every client's subscription set.
func (h *hub) wantedTokens() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, 64)
	for c := range h.clients {
		c.mu.Lock()
		for t := range c.subs {
			out[t] = true
		}
		c.mu.Unlock()
	}
	return out
}

// broadcast delivers one update to every client subscribed to its token.
func (h *hub) broadcast(token string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(token) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client — drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := &client{
			conn: conn,
			send: make(chan []byte, 256),
			subs: make(map[string]bool),
		}
		h.register(c)

		// Write pump.
		go func() {
			for msg := range c.send {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		// Read pump: subscription control frames.
		defer func() {
			h.unregister(c)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg subscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			c.apply(msg)
		}
	}
}

// ─── Simulation ───────────────────────────────────────────────────────────────

// sim holds the generator state for one underlying.
type sim struct {
	spec instruments.UnderlyingSpec
	spot int64 // paise
}

// optionContract is a parsed option token, e.g. "NIFTY26AUG24500CE".
type optionContract struct {
	underlying string
	strike     int64 // paise
	kind       model.Kind
}

// parseOptionToken matches a token against the known underlyings. Synthetic
// option tokens equal their trading symbol.
func parseOptionToken(token string, sims map[string]*sim) (optionContract, bool) {
	var kind model.Kind
	switch {
	case strings.HasSuffix(token, "CE"):
		kind = model.KindCall
	case strings.HasSuffix(token, "PE"):
		kind = model.KindPut
	default:
		return optionContract{}, false
	}

	for underlying := range sims {
		if !strings.HasPrefix(token, underlying) {
			continue
		}
		// Between underlying and kind: 2-digit year, 3-letter month, strike rupees.
		mid := token[len(underlying) : len(token)-2]
		if len(mid) < 6 {
			continue
		}
		strikeRupees, err := strconv.ParseInt(mid[5:], 10, 64)
		if err != nil || strikeRupees <= 0 {
			continue
		}
		return optionContract{
			underlying: underlying,
			strike:     strikeRupees * 100,
			kind:       kind,
		}, true
	}
	return optionContract{}, false
}

// walkSpot applies a tiny random walk (±0.05%) to the spot price.
func walkSpot(price int64, rng *rand.Rand) int64 {
	pct := (rng.Float64()*0.1 - 0.05) / 100.0
	next := price + int64(float64(price)*pct)
	if next < 100 {
		next = 100
	}
	return next
}

// premium derives a synthetic option price: intrinsic value plus a time
// value that decays linearly with distance from the money.
func premium(spot int64, c optionContract, step int64, rng *rand.Rand) int64 {
	var intrinsic int64
	if c.kind == model.KindCall {
		intrinsic = spot - c.strike
	} else {
		intrinsic = c.strike - spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}

	// ATM time value ≈ 0.35% of spot, fading to ≈ 0.05% eight strikes out.
	maxTV := spot * 35 / 10000
	minTV := spot * 5 / 10000
	dist := c.strike - spot
	if dist < 0 {
		dist = -dist
	}
	steps := dist / step
	tv := maxTV - (maxTV-minTV)*steps/8
	if tv < minTV {
		tv = minTV
	}

	noise := rng.Int63n(21) - 10 // ±10 paise
	p := intrinsic + tv + noise
	if p < 5 {
		p = 5
	}
	return p
}

type generator struct {
	hub  *hub
	sims map[string]*sim // symbol → sim
	seqs map[string]int64
	rng  *rand.Rand
}

func (g *generator) emit(token, exchange string, ltp, bid, ask int64, now time.Time) {
	g.seqs[token]++
	update := model.RawUpdate{
		Token:    token,
		Exchange: exchange,
		LTP:      ltp,
		Bid:      bid,
		Ask:      ask,
		Seq:      g.seqs[token],
		TickTS:   now,
	}
	b, err := json.Marshal(update)
	if err != nil {
		return
	}
	g.hub.broadcast(token, b)
}

func (g *generator) run(intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UTC()
		wanted := g.hub.wantedTokens()

		// Spot ticks.
		for _, s := range g.sims {
			s.spot = walkSpot(s.spot, g.rng)
			if wanted[s.spec.SpotToken] {
				tick := s.spec.TickSize
				g.emit(s.spec.SpotToken, s.spec.SpotExchange,
					s.spot, s.spot-tick, s.spot+tick, now)
			}
		}

		// Option ticks for every subscribed contract.
		for token := range wanted {
			c, ok := parseOptionToken(token, g.sims)
			if !ok {
				continue
			}
			s := g.sims[c.underlying]
			mid := premium(s.spot, c, s.spec.StrikeStep, g.rng)

			spread := mid / 500 // ~0.2%
			if spread < s.spec.TickSize {
				spread = s.spec.TickSize
			}
			g.emit(token, "NFO", mid, mid-spread, mid+spread, now)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting simulated feed...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)

	cfg := config.Load()
	specs := cfg.ParseUnderlyings()
	if len(specs) == 0 {
		log.Fatalf("[tickserver] no valid underlyings in %q", cfg.Underlyings)
	}

	startSpots := parseSpots(envOrDefault("SPOT_RUPEES", "NIFTY:24500"))
	sims := make(map[string]*sim, len(specs))
	for _, spec := range specs {
		spot := startSpots[spec.Symbol]
		if spot == 0 {
			spot = 24500 * 100
		}
		sims[spec.Symbol] = &sim{spec: spec, spot: spot}
		log.Printf("[tickserver] %s spot starts at ₹%d (token %s)", spec.Symbol, spot/100, spec.SpotToken)
	}

	h := newHub()
	g := &generator{
		hub:  h,
		sims: sims,
		seqs: make(map[string]int64),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	go g.run(intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// parseSpots parses "SYMBOL:RUPEES,..." into paise amounts.
func parseSpots(s string) map[string]int64 {
	out := make(map[string]int64)
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		rupees, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || rupees <= 0 {
			continue
		}
		out[parts[0]] = rupees * 100
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
