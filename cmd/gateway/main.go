package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/auth"
	"github.com/tradeflow-systems/signal-gateway/internal/config"
	"github.com/tradeflow-systems/signal-gateway/internal/contract"
	"github.com/tradeflow-systems/signal-gateway/internal/handlers"
	"github.com/tradeflow-systems/signal-gateway/internal/idempotency"
	"github.com/tradeflow-systems/signal-gateway/internal/logging"
	"github.com/tradeflow-systems/signal-gateway/internal/normalize"
	"github.com/tradeflow-systems/signal-gateway/internal/pipeline"
	"github.com/tradeflow-systems/signal-gateway/internal/publish"
	"github.com/tradeflow-systems/signal-gateway/internal/ratelimit"
	"github.com/tradeflow-systems/signal-gateway/internal/server"
	"github.com/tradeflow-systems/signal-gateway/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("signal-gateway"))
	logging.SetDefault(logger)

	slog.Info("Starting signal gateway",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.Any("allowed_sources", cfg.Auth.AllowedSources),
	)

	// Shared state stores: in-process by default, Redis when more than
	// one gateway instance must share nonce/idempotency/rate state.
	var kv store.KV
	if cfg.Redis.Enabled {
		redisKV, err := store.NewRedis(cfg.Redis.URL, "gateway:")
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		kv = redisKV
		slog.Info("Using Redis state store", slog.String("url", cfg.Redis.URL))
	} else {
		kv = store.NewMemory(time.Minute)
		slog.Info("Using in-memory state store (single instance only)")
	}
	defer kv.Close()

	// Rate limiter
	var limiter ratelimit.Limiter
	switch {
	case !cfg.RateLimit.Enabled:
		limiter = ratelimit.NoOp{}
		slog.Info("Rate limiting disabled in configuration")
	case cfg.Redis.Enabled:
		redisLimiter, err := ratelimit.NewRedisLimiter(cfg.Redis.URL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			log.Fatalf("Failed to initialize Redis rate limiter: %v", err)
		}
		limiter = redisLimiter
		slog.Info("Redis rate limiting enabled",
			slog.Int("requests", cfg.RateLimit.Requests),
			slog.Duration("window", cfg.RateLimit.Window),
		)
	default:
		limiter = ratelimit.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		slog.Info("Fixed-window rate limiting enabled",
			slog.Int("requests", cfg.RateLimit.Requests),
			slog.Duration("window", cfg.RateLimit.Window),
		)
	}
	defer limiter.Close()

	// Durable log connection and stream bootstrap
	js, err := publish.ConnectJetStream(publish.NATSConfig{
		URL:            cfg.NATS.URL,
		ConnectTimeout: cfg.NATS.PublishTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := js.EnsureStreams(streamCtx); err != nil {
		slog.Warn("Failed to ensure JetStream streams; publishes will buffer until the log is ready",
			slog.String("error", err.Error()),
		)
	}
	streamCancel()

	publisher := publish.New(js, publish.Config{
		PublishTimeout: cfg.NATS.PublishTimeout,
		BufferCapacity: cfg.NATS.BufferCapacity,
		BufferMaxAge:   cfg.NATS.BufferMaxAge,
		ReconnectBase:  cfg.NATS.ReconnectBase,
		ReconnectMax:   cfg.NATS.ReconnectMax,
	}, logger.Logger)
	defer publisher.Close()

	// Request pipeline
	authenticator := auth.New(auth.Config{
		Secret:         cfg.Auth.Secret,
		ReplayWindow:   cfg.Auth.ReplayWindow,
		ClockSkew:      cfg.Auth.ClockSkew,
		MaxBodyBytes:   cfg.Ingestion.MaxPayloadBytes,
		AllowedSources: cfg.Auth.AllowedSources,
	}, kv)

	cache := idempotency.New(kv, cfg.Idempotency.TTL)
	registry := normalize.NewRegistry(normalize.Generic{}, normalize.TradingView{})

	pipe := pipeline.New(
		authenticator,
		limiter,
		cache,
		registry,
		contract.Default(),
		publisher,
		logger.Logger,
		cfg.Normalization.StrictSources,
	)

	handler := handlers.NewWebhookHandler(pipe, publisher, logger, cfg.Ingestion.MaxPayloadBytes)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Signal gateway listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Server stopped")
}
