package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchplatform/search-reduce/internal/analytics"
	"github.com/searchplatform/search-reduce/internal/cache"
	"github.com/searchplatform/search-reduce/internal/executor"
	"github.com/searchplatform/search-reduce/internal/fetchstore"
	"github.com/searchplatform/search-reduce/internal/handler"
	"github.com/searchplatform/search-reduce/internal/shard"
	"github.com/searchplatform/search-reduce/pkg/config"
	"github.com/searchplatform/search-reduce/pkg/health"
	"github.com/searchplatform/search-reduce/pkg/kafka"
	"github.com/searchplatform/search-reduce/pkg/logger"
	"github.com/searchplatform/search-reduce/pkg/metrics"
	"github.com/searchplatform/search-reduce/pkg/middleware"
	"github.com/searchplatform/search-reduce/pkg/postgres"
	pkgredis "github.com/searchplatform/search-reduce/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"num_shards", cfg.Search.NumShards,
	)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go metrics.StartServer(cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *fetchstore.Store
	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, serving the built-in sample corpus", "error", err)
	} else {
		defer pgClient.Close()
		store = fetchstore.NewStore(pgClient)
	}

	shards, err := buildShards(ctx, cfg.Search.NumShards, store)
	if err != nil {
		slog.Error("failed to build shard engines", "error", err)
		os.Exit(1)
	}
	m.ActiveShards.Set(float64(len(shards)))

	var respCache *cache.ResponseCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, response caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		respCache = cache.New(redisClient, cfg.Redis, m)
		slog.Info("response cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AnalyticsEvents)
	defer producer.Close()
	collector := analytics.NewCollector(producer)
	collector.Start(ctx)
	defer collector.Close()

	checker := health.NewChecker()
	checker.Register("shards", func(ctx context.Context) health.ComponentHealth {
		if len(shards) > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards active", len(shards))}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no shards"}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pgClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	coordinator := executor.NewCoordinator(shards, cfg.Search, m)
	h := handler.New(coordinator, respCache, collector, m)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.InvalidateCache)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

// buildShards loads each shard's documents from the store when one is
// available and falls back to the built-in sample corpus otherwise, so the
// service stays usable without infrastructure.
func buildShards(ctx context.Context, numShards int, store *fetchstore.Store) ([]executor.ShardExecutor, error) {
	shards := make([]executor.ShardExecutor, numShards)
	stored := 0
	for i := range shards {
		var docs []shard.Document
		if store != nil {
			loaded, err := store.LoadShard(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("loading shard %d: %w", i, err)
			}
			docs = loaded
			stored += len(loaded)
		}
		shards[i] = shard.NewEngine(i, docs)
	}
	if stored > 0 {
		slog.Info("shards loaded from document store", "docs", stored)
		return shards, nil
	}
	for i, docs := range sampleCorpus(numShards) {
		shards[i] = shard.NewEngine(i, docs)
	}
	slog.Info("shards seeded with sample corpus")
	return shards, nil
}
