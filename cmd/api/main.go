package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pahuang-96485/clinic-scheduler/internal/actions"
	"github.com/pahuang-96485/clinic-scheduler/internal/api/router"
	"github.com/pahuang-96485/clinic-scheduler/internal/chat"
	appconfig "github.com/pahuang-96485/clinic-scheduler/internal/config"
	"github.com/pahuang-96485/clinic-scheduler/internal/dispatch"
	"github.com/pahuang-96485/clinic-scheduler/internal/http/handlers"
	"github.com/pahuang-96485/clinic-scheduler/internal/intent"
	"github.com/pahuang-96485/clinic-scheduler/internal/observability/metrics"
	"github.com/pahuang-96485/clinic-scheduler/internal/search"
	"github.com/pahuang-96485/clinic-scheduler/internal/session"
	"github.com/pahuang-96485/clinic-scheduler/internal/store"
	"github.com/pahuang-96485/clinic-scheduler/internal/summarize"
	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

func main() {
	// No .env file is fine in deployed environments.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := connectRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		logger.Warn("invalid DEFAULT_TIMEZONE, using UTC", "timezone", cfg.DefaultTimezone)
		loc = time.UTC
	}

	extractor, err := intent.NewGeminiExtractor(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to create intent extractor", "error", err)
		os.Exit(1)
	}
	defer func() { _ = extractor.Close() }()

	summarizer, err := summarize.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to create summarizer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = summarizer.Close() }()

	metricsHandler, convMetrics := setupConversationMetrics()

	st := store.New(pool)
	turnLog := session.NewTurnLog(pool, cfg.SlotLookbackTurns, logger)
	histCache := session.NewHistoryCache(redisClient, cfg.HistoryTTL)
	engine := search.New(st, loc, logger)

	actionHandlers := actions.New(st, turnLog, turnLog, engine, logger)
	actionHandlers.SetSlotLimit(cfg.SlotResultLimit)
	dispatcher := dispatch.New(actionHandlers, turnLog, logger)

	chatService := chat.New(chat.Config{
		Turns:        turnLog,
		Cache:        histCache,
		Dispatcher:   dispatcher,
		Extractor:    extractor,
		Summarizer:   summarizer,
		Users:        st,
		Metrics:      convMetrics,
		Logger:       logger,
		HistoryTurns: cfg.HistoryTurns,
	})

	routerCfg := &router.Config{
		Logger:             logger,
		ChatHandler:        handlers.NewChatHandler(chatService, logger),
		HealthHandler:      handlers.NewHealthHandler(pool, redisPinger{redisClient}, logger),
		MetricsHandler:     metricsHandler,
		AuthSecret:         cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ChatRateLimit:      cfg.ChatRateLimit,
		ChatRateBurst:      cfg.ChatRateBurst,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// connectPostgresPool opens a pgx pool, returning nil when no URL is set so
// the caller can decide whether that is fatal.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func connectRedis(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// setupConversationMetrics registers the conversation metrics on a fresh
// registry along with the standard process and Go collectors.
func setupConversationMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	conv := metrics.NewConversationMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), conv
}

// redisPinger adapts the redis client to the health handler's Pinger.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
