// Package main is the entry point for the reply worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/cache"
	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/handler"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/outbound"
	"github.com/capitalize-ai/chat-relay/internal/protection"
	"github.com/capitalize-ai/chat-relay/internal/reply"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/internal/retrieval"
	"github.com/capitalize-ai/chat-relay/internal/worker"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting reply worker",
		zap.String("env", cfg.Env),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay-worker", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// Database
	db, err := repository.Open(ctx, repository.DBConfig{
		DSN:             cfg.PostgresDSN,
		MaxOpenConns:    cfg.PostgresMaxOpenConns,
		MaxIdleConns:    cfg.PostgresMaxIdleConns,
		ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
	}, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	repos := repository.NewRepositories(db)

	// Protection state
	var kv cache.Store
	if cfg.RedisEnabled {
		redisStore, err := cache.Connect(ctx, cfg.RedisURL, cfg.RedisDB, log)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		stopMonitor := cache.StartHealthMonitor(ctx, redisStore, 30*time.Second, log)
		defer stopMonitor()
		kv = redisStore
	} else {
		log.Warn("Redis disabled, protection state is local to this process")
		kv = cache.NewMemoryStore()
	}

	// NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "chat-relay-worker",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsClient.Close()

	jobs := natsclient.NewJobQueue(natsClient, natsclient.QueueConfig{
		MaxAttempts: cfg.WorkerMaxAttempts,
		JobTimeout:  cfg.WorkerJobTimeout,
	}, log)
	if err := jobs.EnsureStream(ctx); err != nil {
		return err
	}

	// Language models
	fallback := llm.Provider(cfg.DefaultLLM)
	switch {
	case fallback == llm.ProviderAnthropic && cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey != "":
		fallback = llm.ProviderOpenAI
	case fallback == llm.ProviderOpenAI && cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey != "":
		fallback = llm.ProviderAnthropic
	}
	registry := llm.NewRegistry(fallback)
	var embedder llm.Embedder
	if cfg.AnthropicAPIKey != "" {
		client, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			return err
		}
		registry.Register(client)
	}
	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		registry.Register(client)
		embedder = client
	}
	if registry.Len() == 0 {
		return errors.New("no language model configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	// Retrieval is optional and needs an embedding provider.
	var retriever retrieval.Retriever
	if cfg.QdrantURL != "" && embedder != nil {
		qc, err := retrieval.NewQdrantClient(retrieval.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			TopK:       cfg.RAGTopK,
		})
		if err != nil {
			return err
		}
		defer qc.Close()
		retriever = retrieval.NewQdrantRetriever(qc, embedder, cfg.QdrantCollection, cfg.RAGTopK)
		log.Info("Retrieval enabled", zap.String("collection", cfg.QdrantCollection))
	} else if cfg.QdrantURL != "" {
		log.Warn("QDRANT_URL set without OPENAI_API_KEY, retrieval disabled")
	}

	// Outbound
	var sender outbound.Sender
	switch cfg.OutboundProvider {
	case "360dialog":
		sender = outbound.NewDialog360Sender(cfg.OutboundBaseURL, cfg.OutboundAPIKey, cfg.OutboundTimeout)
	default:
		log.Warn("Outbound provider is log-only, replies are not delivered",
			zap.String("provider", cfg.OutboundProvider),
		)
		sender = outbound.NewLogSender(log)
	}

	emitter := events.NewEmitter(log)
	orchestrator := reply.NewOrchestrator(repos, registry, retriever, sender, emitter, reply.Config{
		HistoryLimit:   cfg.ReplyHistoryLimit,
		MaxTokens:      cfg.LLMMaxTokens,
		LLMTimeout:     cfg.LLMTimeout,
		DefaultModel:   cfg.DefaultModel,
		ScoreThreshold: cfg.RAGScoreThreshold,
		TokenBudget:    cfg.RAGTokenBudget,
	}, log)

	processor := worker.NewProcessor(
		protection.NewDeduplicator(kv, cfg.DedupTTL),
		protection.NewRateLimiter(kv, cfg.RateLimitMessages, cfg.RateLimitWindow, protection.Scope(cfg.RateLimitScope)),
		protection.NewQuotaGate(repos, cfg.QuotaDefaultDailyLimit, log),
		repos.Conversations,
		orchestrator,
		worker.Notices{RateLimit: cfg.RateLimitNotice, Quota: cfg.QuotaNotice},
		emitter,
		log,
	)

	runtime := worker.NewRuntime(jobs, processor, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.WorkerJobTimeout,
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.WorkerMaxAttempts,
			BaseDelay:   cfg.WorkerBackoffBase,
			MaxDelay:    cfg.WorkerBackoffMax,
		},
	}, emitter, log)

	// Metrics and probes
	healthHandler := handler.NewHealthHandler(
		handler.Check{Name: "postgres", Fn: func(ctx context.Context) error { return repository.Ping(ctx, db) }},
		handler.Check{Name: "nats", Fn: natsClient.Ping},
		handler.Check{Name: "cache", Fn: kv.Ping},
	)
	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", zap.Error(err))
		}
	}()

	go reportPending(ctx, jobs, log)

	err = runtime.Run(ctx)

	log.Info("Shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := metricsServer.Shutdown(shutdownCtx); serr != nil {
		log.Error("Metrics server forced to shutdown", zap.Error(serr))
	}

	return err
}

func reportPending(ctx context.Context, jobs *natsclient.JobQueue, log *logger.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := jobs.ReportPending(ctx); err != nil {
				log.Debug("Failed to read consumer backlog", zap.Error(err))
			}
		}
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.IsDevelopment() {
		return logger.NewDevelopment()
	}
	return logger.NewWithOptions(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}
