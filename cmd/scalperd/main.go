// cmd/scalperd — options scalping engine.
//
// Pipeline: feed WS → ring buffer → normalizer → tick fan-out →
// { ladder aggregator, P&L engine } → Redis broadcasts, with the order
// coordinator mutating the position book on confirmed fills and the fill
// journal recording every execution.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"scalper-systemv1/config"
	"scalper-systemv1/internal/bus"
	"scalper-systemv1/internal/instruments"
	"scalper-systemv1/internal/journal"
	"scalper-systemv1/internal/ladder"
	"scalper-systemv1/internal/marketdata/closedetector"
	"scalper-systemv1/internal/marketdata/ws"
	"scalper-systemv1/internal/markethours"
	"scalper-systemv1/internal/metrics"
	"scalper-systemv1/internal/model"
	"scalper-systemv1/internal/notification"
	"scalper-systemv1/internal/orders"
	"scalper-systemv1/internal/paper"
	"scalper-systemv1/internal/pnl"
	"scalper-systemv1/internal/positions"
	redisstore "scalper-systemv1/internal/store/redis"
	"scalper-systemv1/pkg/kiteconnect"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[scalperd] starting...")

	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[scalperd] *** STAGING MODE — using tickserver WS instead of broker feed ***")
	}

	cfg := config.Load()
	if !stagingMode {
		cfg.RequireLiveCreds()
	}

	specs := cfg.ParseUnderlyings()
	if len(specs) == 0 {
		log.Fatalf("[scalperd] no valid underlyings in %q", cfg.Underlyings)
	}
	symbols := make([]string, len(specs))
	for i, s := range specs {
		symbols[i] = s.Symbol
	}
	log.Printf("[scalperd] underlyings: %s (window ±%d strikes)", strings.Join(symbols, ","), cfg.LadderWindow)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetMode(cfg.Mode)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Fill journal (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[scalperd] journal init failed: %v", err)
	}
	defer jnl.Close()
	health.SetJournalOK(true)

	// ---- Redis publisher ----
	publisher, err := redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[scalperd] redis init failed: %v", err)
	}
	defer publisher.Close()
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, publisher.Client(), jnl.DB(), 10*time.Second)

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		log.Printf("[scalperd] redis circuit breaker: %s → %s", from, to)
	}
	bufferedPub := redisstore.NewBufferedPublisher(ctx, publisher, cb, 10000)
	bufferedPub.OnFlush = func(count int) {
		log.Printf("[scalperd] redis recovered, %d buffered broadcasts flushed", count)
	}

	// ---- Notifier ----
	var backends []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	var notifier notification.Notifier
	switch len(backends) {
	case 0:
		notifier = notification.NewLogNotifier()
	case 1:
		notifier = backends[0]
	default:
		notifier = notification.NewFanoutNotifier(backends...)
	}
	notify := func(level notification.AlertLevel, title, msg string) {
		go func() {
			nctx, ncancel := context.WithTimeout(ctx, 10*time.Second)
			defer ncancel()
			if err := notifier.Send(nctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
				log.Printf("[scalperd] notification failed: %v", err)
			}
		}()
	}

	// ---- Instrument registry ----
	var kc *kiteconnect.Client
	var src instruments.Source
	if stagingMode {
		// Synthetic contracts on the front weekly expiry.
		expiry := nextWeeklyExpiry(time.Now().In(markethours.IST))
		for i := range specs {
			specs[i].Expiry = expiry
		}
		src = instruments.NewSyntheticSource(specs)
		log.Printf("[scalperd] synthetic catalog, expiry %s", expiry.Format("2006-01-02"))
	} else {
		kc = kiteconnect.NewClient(kiteconnect.Config{
			APIKey:      cfg.KiteAPIKey,
			APISecret:   cfg.KiteAPISecret,
			AccessToken: cfg.KiteAccessToken,
		})
		kc.SessionExpiryHook = func() {
			log.Printf("[scalperd] broker session expired — live orders will fail until re-login")
			health.SetVenueOK(false)
			notify(notification.AlertCritical, "Session expired", "Broker session expired, re-login required")
		}

		loader := instruments.NewLoader(kc, cfg.CacheDir)
		catalog, err := loader.Load(ctx, symbols)
		if err != nil {
			log.Fatalf("[scalperd] instrument catalog load failed: %v", err)
		}
		for i := range specs {
			exp := instruments.NearestExpiry(catalog, specs[i].Symbol, time.Now().In(markethours.IST))
			if exp.IsZero() {
				log.Fatalf("[scalperd] no expiry in catalog for %s", specs[i].Symbol)
			}
			specs[i].Expiry = exp
		}
		catalogSrc := instruments.NewCatalogSource(catalog, specs)
		for _, s := range specs {
			grid := catalogSrc.Strikes(s.Symbol, s.Expiry)
			if len(grid) < 2*cfg.LadderWindow+1 {
				log.Fatalf("[scalperd] %s catalog has only %d strikes for %s, window needs %d",
					s.Symbol, len(grid), s.Expiry.Format("2006-01-02"), 2*cfg.LadderWindow+1)
			}
			log.Printf("[scalperd] %s trading expiry %s (%d strikes, ₹%d–₹%d)",
				s.Symbol, s.Expiry.Format("2006-01-02"), len(grid), grid[0]/100, grid[len(grid)-1]/100)
		}
		src = catalogSrc
	}
	reg := instruments.New(src)

	// ---- Ladder aggregator ----
	ladderAgg := ladder.New(reg, specs, cfg.LadderWindow)

	var dirtyMu sync.Mutex
	dirty := make(map[string]bool)
	ladderAgg.OnRowUpdate = func(ev model.LadderEvent) {
		dirtyMu.Lock()
		dirty[ev.Underlying] = true
		dirtyMu.Unlock()
	}
	ladderAgg.OnATMShift = func(underlying string, oldATM, newATM int64) {
		prom.ATMShifts.Inc()
		log.Printf("[scalperd] %s ATM shifted %d → %d", underlying, oldATM/100, newATM/100)
	}

	// ---- Position book, persistence, P&L ----
	book := positions.NewBook()
	posStore := redisstore.NewPositionStore(publisher)
	for _, mode := range []model.Mode{model.ModePaper, model.ModeLive} {
		restored, err := posStore.LoadPositions(ctx, mode)
		if err != nil {
			log.Printf("[scalperd] position restore (%s) failed: %v", mode, err)
			continue
		}
		if len(restored) > 0 {
			book.Restore(restored)
			log.Printf("[scalperd] restored %d open %s positions", len(restored), mode)
		}
	}

	pnlEngine := pnl.NewEngine(book, ladderAgg)

	var realizedMu sync.Mutex
	realized := make(map[model.Mode]int64)
	lossAlerted := false

	book.OnChange = func(ev model.PositionEvent) {
		pnlEngine.OnPositionChange(ev)

		mode := ev.Position.Mode
		realizedMu.Lock()
		realized[mode] += ev.Realized
		sessionRealized := realized[mode]
		realizedMu.Unlock()
		prom.RealizedPnL.WithLabelValues(string(mode)).Set(float64(sessionRealized))

		open := openByMode(book.OpenPositions())
		for _, m := range []model.Mode{model.ModePaper, model.ModeLive} {
			prom.OpenPositions.WithLabelValues(string(m)).Set(float64(len(open[m])))
		}
		publisher.PublishPositions(ctx, mode, open[mode])

		if cfg.MaxDailyLoss > 0 && sessionRealized < -cfg.MaxDailyLoss && !lossAlerted {
			lossAlerted = true
			notify(notification.AlertCritical, "Daily loss limit crossed",
				"Realized "+rupees(sessionRealized)+" for "+string(mode)+" mode")
		}
	}

	// ---- Execution venues & coordinator ----
	paperAccount := paper.NewAccount(cfg.PaperBalance, filepath.Join(filepath.Dir(cfg.JournalPath), "paper_account.json"))
	venues := map[model.Mode]model.ExecutionVenue{
		model.ModePaper: paper.NewSimulator(ladderAgg, cfg.SlippageBps, cfg.PaperLatency(), paperAccount),
	}
	if kc != nil {
		venues[model.ModeLive] = kiteconnect.NewVenue(kc)
		health.SetVenueOK(true)
	}

	coord := orders.NewCoordinator(book, venues, cfg.OrderTimeout())
	coord.Journal = jnl
	coord.OnDuplicateCompletion = func(orderID string) {
		prom.DuplicateFills.Inc()
	}

	var submitTimes sync.Map // order id → time.Time
	coord.OnUpdate = func(u model.OrderUpdate) {
		switch u.State {
		case model.OrderRequested:
			submitTimes.Store(u.OrderID, time.Now())
		case model.OrderFilled:
			prom.FillsTotal.WithLabelValues(string(u.Mode)).Inc()
			if t, ok := submitTimes.LoadAndDelete(u.OrderID); ok && u.Mode == model.ModePaper {
				prom.PaperFillLatency.Observe(time.Since(t.(time.Time)).Seconds())
			}
			notify(notification.AlertInfo, "Order filled",
				u.Instrument.TradingSymbol+" "+string(u.Type)+" "+strconv.FormatInt(u.Qty, 10)+" @ "+rupees(u.FillPrice))
		case model.OrderRejected:
			prom.RejectsTotal.WithLabelValues(string(u.Mode)).Inc()
			submitTimes.Delete(u.OrderID)
			notify(notification.AlertWarning, "Order rejected",
				u.Instrument.TradingSymbol+" "+string(u.Type)+": "+u.Reason)
		case model.OrderCancelled:
			submitTimes.Delete(u.OrderID)
		}
		bufferedPub.PublishOrder(u)
	}

	// ---- Order commands from the gateway ----
	go publisher.RunCommands(ctx, func(cmd model.OrderCommand) {
		switch cmd.Action {
		case "place":
			inst, ok := reg.ByKey(cmd.InstrumentKey)
			if !ok {
				log.Printf("[scalperd] place %s: unknown instrument %s", cmd.ReqID, cmd.InstrumentKey)
				return
			}
			if _, err := coord.Submit(ctx, inst, cmd.Type, cmd.Qty, cmd.Mode); err != nil {
				log.Printf("[scalperd] place %s rejected at submit: %v", cmd.ReqID, err)
			}
		case "exit":
			pos, ok := book.Get(cmd.PositionID)
			if !ok {
				log.Printf("[scalperd] exit %s: no open position %s", cmd.ReqID, cmd.PositionID)
				return
			}
			if _, err := coord.SubmitExit(ctx, pos); err != nil {
				log.Printf("[scalperd] exit %s rejected at submit: %v", cmd.ReqID, err)
			}
		case "cancel":
			if err := coord.Cancel(cmd.OrderID); err != nil {
				log.Printf("[scalperd] cancel %s: %v", cmd.OrderID, err)
			}
		default:
			log.Printf("[scalperd] unknown order command action %q", cmd.Action)
		}
	})

	// ---- Tick fan-out ----
	tickCh := make(chan model.Tick, 10000)
	fanout := bus.New[model.Tick](5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	ladderSub := fanout.Subscribe()
	pnlSub := fanout.Subscribe()
	go fanout.Run(ctx, tickCh)

	// Spot tokens, used by the subscription reconciler and close detector.
	spotKeys := make(map[string]bool, len(specs))
	spotTokens := make([]string, 0, len(specs))
	for _, s := range specs {
		spotKeys[s.SpotExchange+":"+s.SpotToken] = true
		spotTokens = append(spotTokens, s.SpotToken)
	}

	session := &sessionGuard{}

	// Ladder consumer (hot path).
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-ladderSub:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				health.SetLastTickTime(time.Now())
				ladderAgg.OnTick(tick)
				if lag := time.Since(tick.TickTS); lag > 0 {
					prom.LadderLag.Set(lag.Seconds())
					lastLagMu.Lock()
					lastLagMs = float64(lag.Microseconds()) / 1000.0
					lastLagMu.Unlock()
				}
				if spotKeys[tick.Key()] {
					session.observeSpot(tick.LTP)
				}
			}
		}
	}()

	// P&L consumer.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-pnlSub:
				if !ok {
					return
				}
				pnlEngine.OnTick(tick)
			}
		}
	}()

	// Ladder broadcast loop: coalesces row updates into at most one
	// snapshot per underlying per interval.
	go func() {
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dirtyMu.Lock()
				pending := dirty
				dirty = make(map[string]bool)
				dirtyMu.Unlock()
				for underlying := range pending {
					if snap, ok := ladderAgg.Snapshot(underlying); ok {
						bufferedPub.PublishLadder(snap)
						prom.LadderUpdates.Inc()
					}
				}
			}
		}
	}()

	// P&L broadcast loop.
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		hadOpen := map[model.Mode]bool{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				open := openByMode(book.OpenPositions())
				for _, mode := range []model.Mode{model.ModePaper, model.ModeLive} {
					positionsOfMode := open[mode]
					if len(positionsOfMode) == 0 && !hadOpen[mode] {
						continue
					}
					hadOpen[mode] = len(positionsOfMode) > 0

					snaps := make([]model.PnLSnapshot, 0, len(positionsOfMode))
					var total int64
					for _, pos := range positionsOfMode {
						quote, ok := ladderAgg.Quote(pos.Instrument.Key())
						if !ok {
							continue
						}
						snap := pnl.Unrealized(pos, quote)
						total += snap.Unrealized
						snaps = append(snaps, snap)
					}
					realizedMu.Lock()
					sessionRealized := realized[mode]
					realizedMu.Unlock()
					publisher.PublishPnL(ctx, mode, total, sessionRealized, snaps)
				}
			}
		}
	}()

	// Position persistence loop.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				open := openByMode(book.OpenPositions())
				for _, mode := range []model.Mode{model.ModePaper, model.ModeLive} {
					if err := posStore.SavePositions(ctx, mode, open[mode]); err != nil {
						log.Printf("[scalperd] position persist (%s) failed: %v", mode, err)
					}
				}
			}
		}
	}()

	// ---- Feed lifecycle ----
	if stagingMode {
		go runStagingFeed(ctx, cfg, spotTokens, tickCh, ladderAgg, book, prom, health, fanout, publisher)
		log.Println("[scalperd] pipeline ready — staging feed 24/7")
	} else {
		go runLiveFeed(ctx, cfg, spotTokens, tickCh, ladderAgg, book, prom, health, fanout, publisher, session, notify)
		log.Printf("[scalperd] pipeline ready — %s", markethours.StatusString(time.Now()))
	}

	// ---- Wait for shutdown ----
	<-sigCh
	log.Println("[scalperd] shutdown signal received, cleaning up...")
	cancel()

	// Final position snapshot so a restart picks up where we left off.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 3*time.Second)
	open := openByMode(book.OpenPositions())
	for _, mode := range []model.Mode{model.ModePaper, model.ModeLive} {
		if err := posStore.SavePositions(persistCtx, mode, open[mode]); err != nil {
			log.Printf("[scalperd] final position persist (%s) failed: %v", mode, err)
		}
	}
	persistCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[scalperd] shutdown complete.")
}

// sessionGuard hands post-close spot prices to the active close detector.
// The live feed loop installs a detector per session; staging never does.
type sessionGuard struct {
	mu       sync.Mutex
	detector *closedetector.Detector
	onClose  func()
}

func (s *sessionGuard) install(d *closedetector.Detector, onClose func()) {
	s.mu.Lock()
	s.detector = d
	s.onClose = onClose
	s.mu.Unlock()
}

func (s *sessionGuard) clear() {
	s.mu.Lock()
	s.detector = nil
	s.onClose = nil
	s.mu.Unlock()
}

func (s *sessionGuard) observeSpot(price int64) {
	s.mu.Lock()
	d, fn := s.detector, s.onClose
	s.mu.Unlock()
	if d == nil {
		return
	}
	if d.Observe(price, time.Now()) {
		log.Printf("[scalperd] closing price captured: %s", rupees(d.ClosingPrice()))
		if fn != nil {
			fn()
		}
	}
}

// runStagingFeed connects to the simulated tick server and stays connected
// around the clock.
func runStagingFeed(ctx context.Context, cfg *config.Config, spotTokens []string,
	tickCh chan model.Tick, ladderAgg *ladder.Aggregator, book *positions.Book,
	prom *metrics.Metrics, health *metrics.HealthStatus, fanout *bus.FanOut[model.Tick],
	publisher *redisstore.Publisher) {

	ingest, err := ws.New(ws.IngestConfig{
		FeedURL: cfg.FeedURL,
		Tokens:  spotTokens,
	})
	if err != nil {
		log.Fatalf("[scalperd] feed init failed: %v", err)
	}
	wireFeedHooks(ingest, prom, health)
	go reconcileSubscriptions(ctx, ingest, ladderAgg, book, spotTokens)
	go syncPipelineMetrics(ctx, ingest, prom, fanout, publisher)

	health.SetWSConnected(true)
	if err := ingest.Start(ctx, tickCh); err != nil && ctx.Err() == nil {
		log.Printf("[scalperd] staging feed ended: %v", err)
	}
	health.SetWSConnected(false)
}

// runLiveFeed gates the broker feed on market hours: fresh connect at each
// open, disconnect once the close detector captures the closing price.
func runLiveFeed(ctx context.Context, cfg *config.Config, spotTokens []string,
	tickCh chan model.Tick, ladderAgg *ladder.Aggregator, book *positions.Book,
	prom *metrics.Metrics, health *metrics.HealthStatus, fanout *bus.FanOut[model.Tick],
	publisher *redisstore.Publisher, session *sessionGuard,
	notify func(notification.AlertLevel, string, string)) {

	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			next := markethours.NextOpen(now)
			connectAt := markethours.WSConnectTime(next)
			if wait := connectAt.Sub(now); wait > 0 {
				log.Printf("[scalperd] market closed. %s", markethours.StatusString(now))
				log.Printf("[scalperd] sleeping %v, connecting at %s",
					wait.Truncate(time.Second), connectAt.In(markethours.IST).Format("Mon 15:04"))
				health.SetWSConnected(false)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}

		closeTime := markethours.TodayClose(time.Now())
		wsCtx, wsCancel := context.WithDeadline(ctx, closeTime.Add(5*time.Minute))

		detector := closedetector.New(closeTime)
		session.install(detector, wsCancel)

		ingest, err := ws.New(ws.IngestConfig{
			FeedURL:     cfg.KiteWSURL,
			APIKey:      cfg.KiteAPIKey,
			AccessToken: cfg.KiteAccessToken,
			Tokens:      spotTokens,
		})
		if err != nil {
			log.Printf("[scalperd] feed init failed: %v, retrying in 30s", err)
			session.clear()
			wsCancel()
			time.Sleep(30 * time.Second)
			continue
		}
		wireFeedHooks(ingest, prom, health)
		go reconcileSubscriptions(wsCtx, ingest, ladderAgg, book, spotTokens)
		go syncPipelineMetrics(wsCtx, ingest, prom, fanout, publisher)

		health.SetWSConnected(true)
		prom.MarketState.Set(1)
		prom.SessionTransitions.WithLabelValues("open").Inc()
		log.Printf("[scalperd] feed connected — session until %s",
			closeTime.In(markethours.IST).Format("15:04:05"))

		if err := ingest.Start(wsCtx, tickCh); err != nil && wsCtx.Err() == nil {
			log.Printf("[scalperd] feed session ended: %v", err)
			prom.SessionTransitions.WithLabelValues("ws_disconnect").Inc()
		}
		session.clear()
		wsCancel()
		health.SetWSConnected(false)
		prom.MarketState.Set(0)
		prom.SessionTransitions.WithLabelValues("close").Inc()
		log.Println("[scalperd] feed disconnected — session over")
		notify(notification.AlertInfo, "Session closed",
			"Feed disconnected at "+time.Now().In(markethours.IST).Format("15:04:05"))

		if ctx.Err() != nil {
			return
		}
	}
}

func wireFeedHooks(ingest *ws.Ingest, prom *metrics.Metrics, health *metrics.HealthStatus) {
	ingest.OnReconnect = func() {
		prom.WSReconnects.Inc()
	}
	ingest.OnRingDrop = func() {
		prom.RingBufOverflow.Inc()
	}
}

// reconcileSubscriptions keeps the feed subscription set equal to the spot
// tokens, every option inside a ladder window, and every instrument with an
// open position (so off-window positions stay marked-to-market). Runs until
// ctx is cancelled.
func reconcileSubscriptions(ctx context.Context, ingest *ws.Ingest, ladderAgg *ladder.Aggregator, book *positions.Book, spotTokens []string) {
	current := make(map[string]bool, 64)
	for _, t := range spotTokens {
		current[t] = true
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wanted := make(map[string]bool, len(current))
			for _, t := range spotTokens {
				wanted[t] = true
			}
			for _, underlying := range ladderAgg.Underlyings() {
				snap, ok := ladderAgg.Snapshot(underlying)
				if !ok {
					continue
				}
				for _, row := range snap.Rows {
					wanted[row.Call.Token] = true
					wanted[row.Put.Token] = true
				}
			}
			for _, pos := range book.OpenPositions() {
				wanted[pos.Instrument.Token] = true
			}

			var added, removed []string
			for t := range wanted {
				if !current[t] {
					added = append(added, t)
				}
			}
			for t := range current {
				if !wanted[t] {
					removed = append(removed, t)
				}
			}
			if len(added) > 0 {
				if err := ingest.Subscribe(added); err != nil {
					log.Printf("[scalperd] subscribe failed: %v", err)
					continue
				}
			}
			if len(removed) > 0 {
				if err := ingest.Unsubscribe(removed); err != nil {
					log.Printf("[scalperd] unsubscribe failed: %v", err)
					continue
				}
			}
			if len(added) > 0 || len(removed) > 0 {
				log.Printf("[scalperd] subscriptions reconciled: +%d −%d (total %d)",
					len(added), len(removed), len(wanted))
				current = wanted
			}
		}
	}
}

// syncPipelineMetrics mirrors normalizer/ring/fanout counters into
// Prometheus and reports end-to-end publish latency to Redis.
func syncPipelineMetrics(ctx context.Context, ingest *ws.Ingest, prom *metrics.Metrics,
	fanout *bus.FanOut[model.Tick], publisher *redisstore.Publisher) {

	var prevOOO, prevDup uint64
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			norm := ingest.Normalizer()
			if v := norm.OutOfOrder(); v > prevOOO {
				prom.DroppedTicks.WithLabelValues("stale_seq").Add(float64(v - prevOOO))
				prevOOO = v
			}
			if v := norm.Duplicates(); v > prevDup {
				prom.DroppedTicks.WithLabelValues("duplicate").Add(float64(v - prevDup))
				prevDup = v
			}
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
				}
			}
			lastLagMu.Lock()
			lagMs := lastLagMs
			lastLagMu.Unlock()
			publisher.WritePipelineLatency(ctx, lagMs)
		}
	}
}

// lastLagMs mirrors the freshest tick-to-apply latency for the pipeline
// latency report the gateway reads from Redis.
var lastLagMu sync.Mutex
var lastLagMs float64

// openByMode splits the open position set by trading mode.
func openByMode(open []model.Position) map[model.Mode][]model.Position {
	out := map[model.Mode][]model.Position{
		model.ModePaper: {},
		model.ModeLive:  {},
	}
	for _, p := range open {
		out[p.Mode] = append(out[p.Mode], p)
	}
	return out
}

// rupees formats a paise amount as a rupee string.
func rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return sign + "₹" + strconv.FormatInt(paise/100, 10) + "." + pad2(paise%100)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

// nextWeeklyExpiry returns the coming Thursday (NSE weekly option expiry)
// at midnight IST, used only for the synthetic staging catalog.
func nextWeeklyExpiry(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(time.Thursday) - int(day.Weekday()) + 7) % 7
	if offset == 0 && now.Hour() >= 16 {
		offset = 7
	}
	return day.AddDate(0, 0, offset)
}
