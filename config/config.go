package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"scalper-systemv1/internal/instruments"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Trading mode: "paper" or "live"
	Mode string

	// Zerodha Kite credentials (required only in live mode)
	KiteAPIKey      string
	KiteAPISecret   string
	KiteAccessToken string
	KiteTOTPSecret  string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	JournalPath   string
	CacheDir      string
	MetricsAddr   string
	GatewayAddr   string

	// Feed
	FeedURL   string // simulated feed WS URL in staging mode
	KiteWSURL string // broker streaming endpoint in live mode

	// Underlyings spec: "SYMBOL:SPOT_TOKEN:EXCHANGE:LOT:STEP,..."
	// STEP is the strike grid spacing in rupees.
	Underlyings string

	// Ladder
	LadderWindow int // strikes above and below ATM

	// Paper execution
	SlippageBps    int64 // basis points applied against the paper fill
	PaperLatencyMs int   // artificial fill delay
	PaperBalance   int64 // starting simulated cash in paise

	// Live execution
	OrderTimeoutMs int // reject an intent if the venue stays silent this long

	// Defaults pushed to fresh terminal clients
	DefaultQty int64 // lots

	// Risk: alert once when session realized loss crosses this (paise,
	// 0 disables the check)
	MaxDailyLoss int64

	// Notifications (optional)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Mode: getEnv("TRADING_MODE", "paper"),

		KiteAPIKey:      getEnv("KITE_API_KEY", ""),
		KiteAPISecret:   getEnv("KITE_API_SECRET", ""),
		KiteAccessToken: getEnv("KITE_ACCESS_TOKEN", ""),
		KiteTOTPSecret:  getEnv("KITE_TOTP_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalPath:   getEnv("JOURNAL_PATH", "data/fills.db"),
		CacheDir:      getEnv("CACHE_DIR", "data/cache"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		FeedURL:   getEnv("FEED_WS_URL", "ws://localhost:9001/ws"),
		KiteWSURL: getEnv("KITE_WS_URL", "wss://ws.kite.trade"),

		// Default: NIFTY index, 25-lot, ₹50 strike grid
		Underlyings: getEnv("UNDERLYINGS", "NIFTY:256265:NSE:25:50"),

		LadderWindow: getEnvInt("LADDER_WINDOW", 5),

		SlippageBps:    int64(getEnvInt("SLIPPAGE_BPS", 0)),
		PaperLatencyMs: getEnvInt("PAPER_LATENCY_MS", 50),
		PaperBalance:   int64(getEnvInt("PAPER_BALANCE_RUPEES", 500000)) * 100,

		OrderTimeoutMs: getEnvInt("ORDER_TIMEOUT_MS", 5000),

		DefaultQty: int64(getEnvInt("DEFAULT_QTY_LOTS", 1)),

		MaxDailyLoss: int64(getEnvInt("MAX_DAILY_LOSS_RUPEES", 0)) * 100,

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// RequireLiveCreds aborts startup if live mode is configured without a
// usable broker session. An access token OR (api secret + totp secret, for
// an interactive login) must be present alongside the api key.
func (c *Config) RequireLiveCreds() {
	if c.Mode != "live" {
		return
	}
	if c.KiteAPIKey == "" {
		log.Fatalf("[config] live mode requires KITE_API_KEY")
	}
	if c.KiteAccessToken == "" && c.KiteAPISecret == "" {
		log.Fatalf("[config] live mode requires KITE_ACCESS_TOKEN or KITE_API_SECRET")
	}
}

// ParseUnderlyings parses the Underlyings spec string. Strike step comes
// in rupees and is stored in paise. Expiry is left zero; the engine pins
// it to the nearest catalog expiry at startup.
func (c *Config) ParseUnderlyings() []instruments.UnderlyingSpec {
	var specs []instruments.UnderlyingSpec
	for _, entry := range strings.Split(c.Underlyings, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 5 {
			log.Printf("[config] skipping malformed underlying spec: %q", entry)
			continue
		}
		lot, err1 := strconv.ParseInt(parts[3], 10, 64)
		step, err2 := strconv.ParseInt(parts[4], 10, 64)
		if err1 != nil || err2 != nil || lot <= 0 || step <= 0 {
			log.Printf("[config] skipping underlying spec with bad numbers: %q", entry)
			continue
		}
		specs = append(specs, instruments.UnderlyingSpec{
			Symbol:       parts[0],
			SpotToken:    parts[1],
			SpotExchange: parts[2],
			LotSize:      lot,
			StrikeStep:   step * 100,
			TickSize:     5, // ₹0.05, the NFO premium tick
		})
	}
	return specs
}

// OrderTimeout returns the live confirmation deadline as a duration.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutMs) * time.Millisecond
}

// PaperLatency returns the simulated fill delay as a duration.
func (c *Config) PaperLatency() time.Duration {
	return time.Duration(c.PaperLatencyMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid integer for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
