// cmd/gateway — WebSocket/REST gateway for the scalping terminal.
//
// Subscribes to the engine's Redis PubSub channels (ladder, positions,
// P&L, orders) and fans them out to terminal clients with sequenced
// envelopes, gap replay, and terminal settings persistence.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scalper-systemv1/config"
	"scalper-systemv1/internal/gateway"
	"scalper-systemv1/internal/journal"

	goredis "github.com/go-redis/redis/v8"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	cfg := config.Load()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	log.Printf("[gateway] redis connected at %s", cfg.RedisAddr)

	var underlyings []string
	for _, spec := range cfg.ParseUnderlyings() {
		underlyings = append(underlyings, spec.Symbol)
	}
	if len(underlyings) == 0 {
		log.Fatalf("[gateway] no valid underlyings in %q", cfg.Underlyings)
	}
	modes := []string{"paper", "live"}

	hub := gateway.NewHub(rdb, underlyings, modes, gateway.TerminalSettings{
		Mode:         cfg.Mode,
		LadderWindow: cfg.LadderWindow,
		DefaultQty:   cfg.DefaultQty,
	})
	go hub.Run(ctx)
	go hub.StartMetricsBroadcast(ctx, processStart)

	// The fill journal is read-only here; the engine owns writes. A missing
	// file just means no fills yet.
	var fills *journal.Journal
	if j, err := journal.Open(cfg.JournalPath); err != nil {
		log.Printf("[gateway] fill journal unavailable: %v (fills endpoint disabled)", err)
	} else {
		fills = j
		defer fills.Close()
	}

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, rdb, ctx, fills, processStart)

	srv := &http.Server{
		Addr:    cfg.GatewayAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("[gateway] listening on %s (underlyings=%s)", cfg.GatewayAddr, strings.Join(underlyings, ","))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[gateway] shutdown signal received...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	rdb.Close()
	log.Println("[gateway] shutdown complete.")
}
