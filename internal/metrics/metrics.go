package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scalper engine.
type Metrics struct {
	TicksTotal    prometheus.Counter
	WSReconnects  prometheus.Counter
	DroppedTicks  *prometheus.CounterVec // labels: reason=stale_seq|duplicate|channel_full
	RedisWriteDur prometheus.Histogram
	JournalDur    prometheus.Histogram

	// Ladder metrics
	LadderUpdates prometheus.Counter
	ATMShifts     prometheus.Counter
	LadderLag     prometheus.Gauge

	// Order / position metrics
	FillsTotal       *prometheus.CounterVec // labels: mode
	RejectsTotal     *prometheus.CounterVec // labels: mode
	DuplicateFills   prometheus.Counter
	PaperFillLatency prometheus.Histogram
	OpenPositions    *prometheus.GaugeVec // labels: mode
	RealizedPnL      *prometheus.GaugeVec // labels: mode

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// End-to-end observability
	E2ELatency prometheus.Histogram // tick-to-WS-emit latency

	// Market session state
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close|ws_disconnect
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_ticks_total",
			Help: "Total ticks received from WebSocket",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalperd_dropped_ticks_total",
			Help: "Ticks dropped (stale sequence, duplicate, or channel full)",
		}, []string{"reason"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalperd_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		JournalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalperd_journal_write_duration_seconds",
			Help:    "SQLite fill journal write latency",
			Buckets: prometheus.DefBuckets,
		}),

		LadderUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_ladder_updates_total",
			Help: "Total strike ladder snapshots emitted",
		}),
		ATMShifts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_atm_shifts_total",
			Help: "Times the at-the-money strike moved and the ladder recentered",
		}),
		LadderLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalperd_ladder_lag_seconds",
			Help: "Lag between tick timestamp and ladder emission time",
		}),

		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalperd_fills_total",
			Help: "Order fills applied to the position book (by mode)",
		}, []string{"mode"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalperd_rejects_total",
			Help: "Order rejections (by mode)",
		}, []string{"mode"}),
		DuplicateFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_duplicate_fills_total",
			Help: "Duplicate order completions dropped by the coordinator",
		}),
		PaperFillLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalperd_paper_fill_latency_seconds",
			Help:    "Simulated venue latency from placement to fill",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalperd_open_positions",
			Help: "Open positions in the book (by mode)",
		}, []string{"mode"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalperd_realized_pnl_paise",
			Help: "Realized P&L for the session in paise (by mode)",
		}, []string{"mode"}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalperd_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped raw updates)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalperd_fanout_drops_total",
			Help: "Ticks dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scalperd_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		E2ELatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalperd_e2e_latency_seconds",
			Help:    "End-to-end latency from tick ingest to WS emit",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalperd_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalperd_session_transitions_total",
			Help: "Market session transitions (open, close, ws_disconnect)",
		}, []string{"type"}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.WSReconnects,
		m.DroppedTicks,
		m.RedisWriteDur,
		m.JournalDur,
		m.LadderUpdates,
		m.ATMShifts,
		m.LadderLag,
		m.FillsTotal,
		m.RejectsTotal,
		m.DuplicateFills,
		m.PaperFillLatency,
		m.OpenPositions,
		m.RealizedPnL,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.E2ELatency,
		m.MarketState,
		m.SessionTransitions,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`
	LadderOK       bool      `json:"ladder_ok"`
	VenueOK        bool      `json:"venue_ok"`
	Mode           string    `json:"mode"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLadderOK(v bool) {
	h.mu.Lock()
	h.LadderOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetVenueOK(v bool) {
	h.mu.Lock()
	h.VenueOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMode(mode string) {
	h.mu.Lock()
	h.Mode = mode
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the SQLite journal and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckJournal(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.WSConnected || !h.RedisConnected || !h.JournalOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.JournalOK {
		overallStatus = "unhealthy"
	}

	// Tick age
	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		Mode             string  `json:"mode"`
		WSConnected      bool    `json:"ws_connected"`
		LastTickTime     string  `json:"last_tick_time"`
		TickAge          string  `json:"tick_age"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LadderOK         bool    `json:"ladder_ok"`
		VenueOK          bool    `json:"venue_ok"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		Mode:             h.Mode,
		WSConnected:      h.WSConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LadderOK:         h.LadderOK,
		VenueOK:          h.VenueOK,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
