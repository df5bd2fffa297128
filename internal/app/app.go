// Package app wires configuration, storage, providers, and the chat
// pipeline into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tidewater/ragchat/db"
	"github.com/tidewater/ragchat/internal/cache"
	"github.com/tidewater/ragchat/internal/config"
	"github.com/tidewater/ragchat/internal/history"
	"github.com/tidewater/ragchat/internal/llm"
	"github.com/tidewater/ragchat/internal/log"
	"github.com/tidewater/ragchat/internal/observability"
	"github.com/tidewater/ragchat/internal/pipeline"
	"github.com/tidewater/ragchat/internal/rerank"
	"github.com/tidewater/ragchat/internal/session"
	"github.com/tidewater/ragchat/internal/vector"
)

// App holds the application's long-lived components.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Pipeline *pipeline.Pipeline

	shutdownTracing func(context.Context) error
}

// Setup initializes every component: logger, tracing, migrations, stores,
// the model provider, and the pipeline. Fails fast on anything unreachable.
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := log.New(log.Config{
		Level: parseLogLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging Redis: %w", err)
	}

	provider, err := llm.New(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("creating model provider: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Embedder:  provider,
		Retriever: vector.NewStore(pool, logger),
		Reranker:  rerank.New(cfg, logger),
		Generator: provider,
		Cache:     cache.New(cache.NewRedisKV(rdb), cfg.CacheTTL, logger),
		Sessions:  session.NewStore(session.NewRedisKV(rdb), cfg.SessionTTL, logger),
		Archive:   history.NewArchive(pool, logger),
		Logger:    logger,

		TopK:      cfg.RetrievalTopK,
		TopN:      cfg.RerankTopN,
		Threshold: cfg.SimilarityThreshold,

		EmbedTimeout:    cfg.EmbedTimeout,
		RetrieveTimeout: cfg.RetrieveTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
	})
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	logger.Info("application initialized",
		"provider", cfg.Provider,
		"chat_model", cfg.ChatModel,
		"embed_model", cfg.EmbedModel,
	)

	return &App{
		Config:          cfg,
		Logger:          logger,
		Pool:            pool,
		Redis:           rdb,
		Pipeline:        pipe,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close drains background work and releases all connections.
func (a *App) Close() error {
	var errs []error

	// Pipeline first: its background writers still need Redis.
	a.Pipeline.Close()

	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing Redis: %w", err))
	}
	a.Pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}

	return errors.Join(errs...)
}

// parseLogLevel maps the configured level name to slog. Unknown names get
// info.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
