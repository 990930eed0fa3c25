package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recallio/recall/api"
	"github.com/recallio/recall/db"
	"github.com/recallio/recall/internal/chat"
	"github.com/recallio/recall/internal/config"
	"github.com/recallio/recall/internal/embed"
	"github.com/recallio/recall/internal/log"
	"github.com/recallio/recall/internal/pipeline"
	"github.com/recallio/recall/internal/retrieval"
	"github.com/recallio/recall/internal/store"
	"github.com/recallio/recall/internal/vecindex"
)

const drainTimeout = 30 * time.Second

// runServe wires the full service and runs the HTTP server until
// SIGINT/SIGTERM.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("starting recall", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Schema first, pool second: the pool is only handed out once the
	// migrations have run. golang-migrate wants the URL form, pgxpool
	// takes the quoted key=value DSN.
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	st := store.New(pool, store.Config{
		MaxSessionMessages: cfg.MaxSessionMessages,
		SessionTimeout:     cfg.SessionTimeout,
	}, logger)

	embedder, err := embed.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	// A dimension mismatch is a configuration error and fatal. An
	// unreachable provider is not: the pipeline retries and the service
	// degrades to contextless answers in the meantime.
	probeCtx, probeCancel := context.WithTimeout(ctx, cfg.EmbeddingTimeout)
	if err := embed.VerifyDimension(probeCtx, embedder); err != nil {
		probeCancel()
		if errors.Is(err, embed.ErrDimensionMismatch) {
			return fmt.Errorf("embedding configuration: %w", err)
		}
		logger.Warn("embedding provider unreachable at startup", "error", err)
	} else {
		probeCancel()
	}

	index := vecindex.NewPostgres(pool, cfg.EmbeddingDimension, logger)

	coordinator := pipeline.NewCoordinator(st, embedder, index, pipeline.Config{
		Workers:        cfg.EnrichmentWorkers,
		QueueSize:      cfg.EnrichmentQueueSize,
		MaxAttempts:    cfg.MaxEmbedAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		EnrichTimeout:  cfg.EmbeddingTimeout,
	}, logger)
	coordinator.Start()
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer drainCancel()
		if err := coordinator.Stop(drainCtx); err != nil {
			logger.Warn("pipeline shutdown error", "error", err)
		}
	}()

	reconciler := pipeline.NewReconciler(st, coordinator, pipeline.ReconcileConfig{
		Interval:  cfg.ReconcileInterval,
		BatchSize: cfg.ReconcileBatchSize,
	}, logger)
	go reconciler.Run(ctx)

	orchestrator := retrieval.New(embedder, index, retrieval.Config{
		TopK:            cfg.RetrievalTopK,
		ScoreThreshold:  float64(cfg.RetrievalScoreThreshold),
		MaxContextChars: cfg.RetrievalMaxContext,
	}, logger)

	llm, err := chat.NewOllamaLLM(cfg.OllamaHost, cfg.ChatModel, cfg.ChatTimeout, chat.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("creating chat backend: %w", err)
	}
	chatService := chat.NewService(st, coordinator, orchestrator, llm, logger)

	server := api.NewServer(
		api.NewHealthHandler(
			api.PingerFunc(pool.Ping),
			api.PingerFunc(index.Ping),
			api.PingerFunc(func(ctx context.Context) error {
				return embed.VerifyDimension(ctx, embedder)
			}),
			cfg.Summary(),
			logger),
		api.NewSessionHandler(st, coordinator, logger),
		api.NewChatHandler(chatService, logger),
		logger,
	)

	return server.Run(ctx, cfg.ListenAddr)
}
