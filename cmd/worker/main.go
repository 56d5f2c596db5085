// Command worker consumes the durable event stream, routes each event
// through the workflow engine, and delivers the resulting reply back
// through the gateway, with retry, dead-lettering and stale-claim
// recovery.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"famagpt-fabric/internal/agents"
	"famagpt-fabric/internal/config"
	"famagpt-fabric/internal/db"
	"famagpt-fabric/internal/gateway"
	"famagpt-fabric/internal/idempotency"
	"famagpt-fabric/internal/llm"
	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/pipeline"
	"famagpt-fabric/internal/stream"
	"famagpt-fabric/internal/workflow"
)

const streamTopic = "messages:stream"
const consumerGroup = "processors"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOpenTelemetry("fabric-worker", logger)
	if err != nil {
		logger.Fatal("setup opentelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	pg, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.RunMigrations("migrations"); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("parse redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	st := stream.New(rdb, streamTopic, consumerGroup, cfg.StreamMaxLen)
	if err := st.EnsureGroup(ctx); err != nil {
		logger.Fatal("ensure consumer group", zap.Error(err))
	}

	idemStore := idempotency.NewStore(rdb)
	processed := pipeline.NewProcessedSet(rdb)

	workflowStore := workflow.NewPostgresStore(pg)
	engine := workflow.NewEngine(logger, metrics, workflowStore)

	dispatcher := agents.NewDispatcher(agents.Config{
		TranscriptionURL: cfg.TranscriptionURL,
		RAGURL:           cfg.RAGURL,
		MemoryURL:        cfg.MemoryURL,
		WebSearchURL:     cfg.WebSearchURL,
		GenericURL:       cfg.GatewayBaseURL,
	}, logger, metrics)

	llmClient := llm.New(cfg.Environment, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)

	workflow.RegisterBuiltins(engine, workflow.Deps{Agents: dispatcher, LLM: llmClient})

	gw := gateway.New(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	w := pipeline.NewWorker(st, engine, gw, idemStore, processed, pipeline.Config{
		PoolSize:   cfg.WorkerPoolSize,
		MaxRetries: cfg.MaxRetries,
		AutoClaim:  cfg.AutoClaimIdle,
	}, logger, metrics)

	logger.Info("worker service started")

	if err := w.Run(ctx); err != nil {
		logger.Error("worker run exited", zap.Error(err))
	}

	logger.Info("worker service stopped")
}
