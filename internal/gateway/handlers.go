package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"scalper-systemv1/internal/journal"
	"scalper-systemv1/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux. fills may
// be nil when the gateway runs without journal access.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, rdb *goredis.Client, ctx context.Context, fills *journal.Journal, processStart time.Time) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		lastTS := r.URL.Query().Get("last_ts")
		hub.HandleWSRequest(conn, lastTS)
	})

	// REST: latest payload per channel (ladder snapshots, positions, pnl)
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetLatestAll())
	})

	// REST: gap backfill, /api/missed?channel=pub:ladder:NIFTY&from=10&to=20
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		channel := r.URL.Query().Get("channel")
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || from <= 0 || to < from {
			http.Error(w, `{"error":"channel, from, to are required"}`, http.StatusBadRequest)
			return
		}

		envelopes := hub.GetReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"channel":     channel,
			"current_seq": hub.GetChannelSeq(channel),
			"envelopes":   out,
		})
	})

	// REST: GET/POST terminal settings
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if r.Method == http.MethodPost {
			var s TerminalSettings
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			if s.Mode != "live" && s.Mode != "paper" {
				http.Error(w, `{"error":"mode must be live or paper"}`, http.StatusBadRequest)
				return
			}
			hub.Settings.Set(s)
			log.Printf("[gateway] terminal settings updated: mode=%s window=%d qty=%d", s.Mode, s.LadderWindow, s.DefaultQty)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}

		json.NewEncoder(w).Encode(hub.Settings.Get())
	})

	// REST: recent fills from the journal
	mux.HandleFunc("/api/fills", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if fills == nil {
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
		records, err := fills.RecentFills(limit)
		if err != nil {
			http.Error(w, `{"error":"journal read failed"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(records)
	})

	// REST: session stats for one day, /api/stats?mode=paper&day=2026-08-26
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		if fills == nil {
			http.Error(w, `{"error":"journal unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		mode := model.Mode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = model.Mode(hub.Settings.Get().Mode)
		}
		day := time.Now().UTC()
		if d := r.URL.Query().Get("day"); d != "" {
			parsed, err := time.Parse("2006-01-02", d)
			if err != nil {
				http.Error(w, `{"error":"day must be YYYY-MM-DD"}`, http.StatusBadRequest)
				return
			}
			day = parsed
		}
		stats, err := fills.StatsForDay(mode, day)
		if err != nil {
			http.Error(w, `{"error":"journal read failed"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(stats)
	})

	// Order entry (relayed to the engine over Redis)
	registerOrderRoutes(mux, hub, rdb)

	// REST: system metrics snapshot
	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		m := CollectMetrics(processStart)
		if v, ok := ReadPipelineLatency(r.Context(), rdb); ok {
			m.PipelineMs = v
		}
		if hub.Latency != nil {
			m.LatencyP50, m.LatencyP95, m.LatencyP99 = hub.Latency.Percentiles()
		}
		json.NewEncoder(w).Encode(m)
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		redisOK := true
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			redisOK = false
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      redisOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
