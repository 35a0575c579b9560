package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minerva/internal/adapters/ai"
	"minerva/internal/adapters/clickhouse"
	"minerva/internal/adapters/config"
	"minerva/internal/adapters/embeddings"
	"minerva/internal/adapters/errors/noop"
	"minerva/internal/adapters/errors/sentry"
	"minerva/internal/adapters/kafka"
	"minerva/internal/adapters/marketdata"
	"minerva/internal/adapters/postgres"
	"minerva/internal/adapters/redis"
	"minerva/internal/agents"
	"minerva/internal/api"
	"minerva/internal/api/health"
	"minerva/internal/cache"
	"minerva/internal/domain/memory"
	"minerva/internal/events"
	"minerva/internal/metrics"
	"minerva/internal/orchestrator"
	"minerva/internal/progress"
	chrepo "minerva/internal/repository/clickhouse"
	pgrepo "minerva/internal/repository/postgres"
	"minerva/internal/runs"
	"minerva/internal/tools"
	"minerva/internal/tools/catalog"
	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env, cfg.App.LogDir); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode", cfg.App.Name, version, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	pg, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	rds, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rds.Close()

	checks := map[string]health.Checker{
		"postgres": pg,
		"redis":    rds,
	}

	var usage agents.UsageLogger
	if cfg.ClickHouse.Enabled() {
		ch, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			log.Warnf("ClickHouse unavailable, usage logging disabled: %v", err)
		} else {
			defer ch.Close()
			usage = chrepo.NewUsageRepository(ch)
			checks["clickhouse"] = ch
		}
	} else {
		log.Info("ClickHouse not configured, usage logging disabled")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled() {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
	} else {
		log.Info("Kafka not configured, decision events disabled")
	}
	publisher := events.NewPublisher(producer, cfg.Kafka.DecisionsTopic)

	memorySvc := initMemoryService(cfg, pg, log)
	registry := initTools(cfg, rds, log)
	resolver := ai.NewResolver(cfg.AI)

	svc := orchestrator.New(orchestrator.Options{
		Config:   cfg.Orchestrator,
		Resolver: resolver,
		Registry: runs.NewRegistry(pgrepo.NewRunRepository(pg.DB())),
		Bus:      progress.NewBus(cfg.Orchestrator.ProgressBufferSize, cfg.Orchestrator.RunRetentionTTL),
		Cache:    cache.New(rds, cfg.Orchestrator.DecisionCacheTTL),
		Tools:    registry,
		Memory:   memorySvc,
		Usage:    usage,
		Events:   publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Janitor(ctx, time.Minute)

	healthHandler := health.New(log, checks, cfg.App.Name, version)
	server := api.NewServer(api.ServerConfig{
		Port:        cfg.App.HTTPPort,
		ServiceName: cfg.App.Name,
		Version:     version,
	}, svc, healthHandler, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	log.Info("System initialized successfully")

	waitForShutdown(cancel, server, svc, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op).
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initMemoryService wires persona memories. Embeddings need the primary
// provider key; without it recall degrades to recency order.
func initMemoryService(cfg *config.Config, pg *postgres.Client, log *logger.Logger) *memory.Service {
	var embedder memory.Embedder
	if cfg.AI.PrimaryKey != "" {
		provider, err := embeddings.NewOpenAIProvider(cfg.AI.PrimaryKey, cfg.AI.EmbeddingModel, cfg.AI.RequestTimeout)
		if err != nil {
			log.Warnf("Embedding provider init failed, recall falls back to recency: %v", err)
		} else {
			embedder = provider
		}
	} else {
		log.Info("No primary provider key, memory recall falls back to recency")
	}

	return memory.NewService(pgrepo.NewMemoryRepository(pg.DB()), embedder)
}

// initTools builds the cached tool catalog over the market data vendor.
func initTools(cfg *config.Config, rds *redis.Client, log *logger.Logger) *tools.Registry {
	policy := tools.DefaultPolicy()
	if cfg.Orchestrator.CachePolicyPath != "" {
		loaded, err := tools.LoadPolicy(cfg.Orchestrator.CachePolicyPath)
		if err != nil {
			log.Warnf("Cache policy load failed, using defaults: %v", err)
		} else {
			policy = loaded
		}
	}

	fetcher := marketdata.NewClient(cfg.MarketData)
	cached := tools.NewCachedFetcher(fetcher, rds, rds, policy)
	return catalog.Build(cached)
}

// waitForShutdown blocks on SIGINT/SIGTERM and drains in-flight runs before
// exiting.
func waitForShutdown(cancel context.CancelFunc, server *api.Server, svc *orchestrator.Service, errorTracker errors.Tracker, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown error: %v", err)
	}

	svc.Wait()

	if errorTracker != nil {
		if err := errorTracker.Flush(shutdownCtx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
