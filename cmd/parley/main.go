package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/parleydev/parley/internal/adapter/groq"
	parleyhttp "github.com/parleydev/parley/internal/adapter/http"
	parleynats "github.com/parleydev/parley/internal/adapter/nats"
	"github.com/parleydev/parley/internal/adapter/otel"
	"github.com/parleydev/parley/internal/adapter/postgres"
	"github.com/parleydev/parley/internal/adapter/ristretto"
	"github.com/parleydev/parley/internal/adapter/ws"
	"github.com/parleydev/parley/internal/config"
	"github.com/parleydev/parley/internal/logger"
	"github.com/parleydev/parley/internal/middleware"
	"github.com/parleydev/parley/internal/port/messagequeue"
	"github.com/parleydev/parley/internal/resilience"
	"github.com/parleydev/parley/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"chat_model", cfg.Groq.ChatModel,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := otel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS (optional; an empty URL disables lifecycle publishing)
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err := parleynats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQueue.Close() }()
		queue = natsQueue
	} else {
		slog.Info("nats disabled, lifecycle events stay local")
	}

	// Insights cache
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- LLM ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm := groq.NewClient(cfg.Groq, breaker)

	var scorer service.SimilarityScorer
	if cfg.Groq.EnableEmbedding && llm.HasEmbeddings() {
		scorer = service.NewEmbeddingScorer(llm)
	} else {
		scorer = service.KeywordScorer{}
	}
	ranker := service.NewRanker(scorer, metrics)
	slog.Info("ranker ready", "scorer", ranker.ScorerName(), "chat_model", llm.Model())

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	analyzer := service.NewAnalyzerService(llm, ranker, cache, cfg.Cache.InsightsTTL, metrics)
	conversations := service.NewConversationService(store, hub, queue, analyzer, metrics)
	agents := service.NewAgentService(store)
	sessions := service.NewSessionService(conversations, llm, metrics)
	sessionHandler := ws.NewSessionHandler(sessions)

	// --- HTTP ---
	handlers := &parleyhttp.Handlers{
		Conversations: conversations,
		Agents:        agents,
		Analyzer:      analyzer,
		Limits:        cfg.Limits,
		SchemaVersion: func(ctx context.Context) (int64, error) {
			return postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		},
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(parleyhttp.RequestContext)
	r.Use(parleyhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(parleyhttp.SecurityHeaders)
	r.Use(parleyhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Recoverer)

	// WebSocket endpoints stay outside the request timeout: sessions and
	// the event firehose are long-lived.
	r.Get("/ws", sessionHandler.HandleSession)
	r.Get("/ws/events", hub.HandleEvents)

	var limiter *middleware.RateLimiter
	if cfg.Limits.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Limits.RateLimitRPS, cfg.Limits.RateLimitBurst)
		stopSweeper := limiter.StartSweeper(time.Minute, 10*time.Minute)
		defer stopSweeper()
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		parleyhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
