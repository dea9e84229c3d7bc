package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cryptopulse/config"
	"cryptopulse/internal/analysis"
	"cryptopulse/internal/feed"
	"cryptopulse/internal/gateway"
	"cryptopulse/internal/logger"
	"cryptopulse/internal/marketdata/bus"
	"cryptopulse/internal/marketdata/history"
	"cryptopulse/internal/marketdata/stream"
	"cryptopulse/internal/marketdata/synth"
	"cryptopulse/internal/metrics"
	"cryptopulse/internal/model"
	"cryptopulse/internal/notification"
	"cryptopulse/internal/scheduler"
	"cryptopulse/internal/series"
	redisstore "cryptopulse/internal/store/redis"
	sqlitestore "cryptopulse/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("CHARTD_CONFIG", "chartd.yaml"), "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[chartd] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[chartd] config: %v", err)
	}

	logg := logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
	if err := logger.InitTracing("chartd", cfg.TracingEnabled); err != nil {
		logg.Warn("tracing disabled", "error", err)
	}
	logg.Info("starting", "listen", cfg.Server.ListenAddr, "metrics", cfg.Server.MetricsAddr)

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, health, reg)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Redis: bar publishing and settings ----
	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logg.Warn("redis unavailable, continuing degraded", "error", err)
	}
	health.SetRedisConnected(err == nil)
	defer rdb.Close()

	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		logg.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
	}

	publisher := redisstore.NewPublisher(rdb, cb, 1024)
	publisher.OnDrop = prom.RedisPublishDrops.Inc
	publisher.OnFlush = func(n int) { logg.Info("redis recovered, flushed held bars", "bars", n) }
	go publisher.Run(ctx)

	defaults := model.DefaultSettings()
	defaults.DefaultPair = cfg.DefaultPair()
	settings := redisstore.NewSettingsStore(rdb, cb).WithDefaults(defaults)

	// ---- SQLite: analyses and feed event log ----
	if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		log.Fatalf("[chartd] sqlite init failed: %v", err)
	}
	defer db.Close()
	health.SetSQLiteOK(true)

	feedEvents := make(chan model.FeedEvent, 256)
	eventsDone := make(chan struct{})
	go func() {
		// Drained until close so the final transition is recorded.
		db.RunEvents(context.Background(), feedEvents)
		close(eventsDone)
	}()

	health.StartLivenessChecker(ctx, 10*time.Second, metrics.RedisProbe(rdb), metrics.SQLiteProbe(db.DB()))

	// ---- Retention job ----
	sched := scheduler.New(scheduler.Config{
		PruneSpec: cfg.Retention.PruneCron,
		Retention: cfg.Retention.Keep,
	}, db, logg)
	sched.OnPrune = func(n int64, err error) {
		if err == nil {
			prom.AnalysesPruned.Add(float64(n))
		}
	}
	if err := sched.Register(); err != nil {
		log.Fatalf("[chartd] scheduler: %v", err)
	}
	sched.Start()

	// ---- Notifications ----
	notifier := buildNotifier(cfg, logg)

	// ---- Feed pipeline: controller -> series store -> (gateway, redis) ----
	sinks := bus.New()
	sinks.OnPanic = func(name string, v any) { logg.Error("chart sink panicked", "sink", name, "panic", v) }
	store := series.New(sinks)

	hist := history.New(history.Config{
		BaseURL: cfg.Feed.RESTBaseURL,
		Limit:   cfg.Feed.HistoryLimit,
	}, logg)
	hist.OnFallback = func(model.Pair, string) { prom.SeedFallbacks.Inc() }

	streams := stream.New(stream.Config{BaseURL: cfg.Feed.WSBaseURL}, logg)
	streams.OnDecodeError = func(model.Pair, error) { prom.DecodeFailures.Inc() }

	gen := synth.New(synth.Config{Interval: cfg.Feed.SyntheticInterval}, store)
	ctrl := feed.New(feed.Config{StaleAfter: cfg.Feed.StaleAfter}, store, hist, streams, gen, logg)

	hub := gateway.NewHub(store, ctrl)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	hub.OnDrop = prom.BroadcastDrops.Inc
	sinks.Add("gateway", hub)
	sinks.Add("redis", publisher)

	ctrl.OnStateChange = func(prev, next feed.Status) {
		prom.FeedState.Set(float64(next.State))
		streaming := next.Source == feed.SourceStream && (next.State == feed.StateStreaming || next.State == feed.StateDegraded)
		health.SetFeed(next.Pair.Key(), next.State.String(), streaming)
		hub.PublishState(next)

		if next.Pair != prev.Pair && !next.Pair.IsZero() {
			prom.PairChanges.Inc()
		}
		if next.State != prev.State {
			select {
			case feedEvents <- model.FeedEvent{
				Time:   next.Since,
				Pair:   next.Pair.Key(),
				From:   prev.State.String(),
				To:     next.State.String(),
				Reason: next.Reason,
			}:
			default:
				logg.Warn("feed event log full, dropping transition", "to", next.State.String())
			}
		}
	}
	ctrl.OnFailover = func(pair model.Pair, reason string) {
		prom.Failovers.Inc()
		go func() {
			nctx, ncancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer ncancel()
			if err := notifier.Send(nctx, notification.FailoverAlert(pair, reason)); err != nil {
				logg.Warn("failover notification", "error", err)
			}
		}()
	}
	ctrl.OnUpsert = func(src feed.Source, res series.UpsertResult) {
		if res == series.Stale {
			prom.StaleBars.Inc()
			return
		}
		prom.BarsUpserted.WithLabelValues(string(src), res.String()).Inc()
		health.SetLastBarTime(time.Now())
	}
	ctrl.OnDiscard = func(kind stream.EventKind) {
		prom.DiscardedEvents.WithLabelValues(kind.String()).Inc()
	}

	// ---- AI analysis ----
	var analyzer analysis.Analyzer = analysis.Disabled{}
	if cfg.Analysis.APIKey != "" {
		analyzer = analysis.NewGemini(analysis.GeminiConfig{
			APIKey:     cfg.Analysis.APIKey,
			BaseURL:    cfg.Analysis.BaseURL,
			QuickModel: cfg.Analysis.QuickModel,
			UltraModel: cfg.Analysis.UltraModel,
		}, logg)
	} else {
		logg.Warn("no analysis provider key configured, AI analysis disabled")
	}
	svc := analysis.NewService(analysis.ServiceDeps{
		Analyzer: analyzer,
		Records:  db,
		Settings: settings,
		Notifier: notifier,
		Bars:     store,
		Log:      logg,
	})
	svc.OnResult = func(mode model.AnalysisMode, took time.Duration, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		prom.AnalysisRequests.WithLabelValues(string(mode), outcome).Inc()
		prom.AnalysisDur.WithLabelValues(string(mode)).Observe(took.Seconds())
	}

	// ---- HTTP + WebSocket ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Deps{
		Hub:      hub,
		Feed:     ctrl,
		Bars:     store,
		Analysis: svc,
		Config:   gateway.NewConfigStore(hub, settings),
		Events:   db,
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[chartd] http server: %v", err)
		}
	}()

	// ---- Start the feed ----
	ctrlDone := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(ctrlDone)
	}()

	startPair := defaults.DefaultPair
	if st, err := settings.GetSettings(ctx); err == nil && !st.DefaultPair.IsZero() {
		startPair = st.DefaultPair
	}
	if err := ctrl.SelectPair(ctx, startPair); err != nil {
		logg.Error("initial pair selection failed", "pair", startPair.Key(), "error", err)
	}
	logg.Info("ready", "pair", startPair.Key())

	// ---- Wait for shutdown ----
	sig := <-sigCh
	logg.Info("shutting down", "signal", sig.String())
	cancel()

	<-ctrlDone
	close(feedEvents)
	<-eventsDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	hub.Close()
	svc.Wait()
	sched.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	if err := logger.ShutdownTracing(shutdownCtx); err != nil {
		logg.Warn("tracing shutdown", "error", err)
	}
	logg.Info("stopped")
}

func buildNotifier(cfg *config.Config, logg *slog.Logger) notification.Notifier {
	notifiers := notification.Multi{notification.NewLogNotifier(logg)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:    cfg.Notify.WebhookURL,
			Client: &http.Client{Timeout: 10 * time.Second},
			Log:    logg,
		}))
	}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.Notify.TelegramBotToken,
			ChatID:   cfg.Notify.TelegramChatID,
		}))
	}
	return notifiers
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
