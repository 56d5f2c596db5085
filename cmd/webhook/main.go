// Command webhook runs the ingress service: it accepts gateway webhooks,
// applies backpressure and rate limiting, deduplicates and orders events
// per conversation, and publishes accepted events onto the durable stream
// for the worker to pick up. It also serves the DLQ administration API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"famagpt-fabric/internal/admission"
	"famagpt-fabric/internal/config"
	"famagpt-fabric/internal/convstate"
	"famagpt-fabric/internal/db"
	"famagpt-fabric/internal/dlqadmin"
	"famagpt-fabric/internal/idempotency"
	"famagpt-fabric/internal/ingress"
	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/stream"
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

	shutdownOtel, err := observability.SetupOpenTelemetry("fabric-webhook", logger)
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

	convStore := convstate.New(rdb)
	idemStore := idempotency.NewStore(rdb)

	depth := admission.StreamDepth{Stream: st, Timeout: 2 * time.Second}
	backpressure := admission.NewBackpressure(depth, cfg.QueueThreshold, cfg.BackpressureCheck, metrics)
	rateLimiter := admission.NewRateLimiter(rdb, cfg.RateLimitPerMinute, metrics)
	throttle := admission.NewAdaptiveThrottle(depth, time.Duration(cfg.BaseThrottleDelayMs)*time.Millisecond, time.Duration(cfg.MaxThrottleDelayMs)*time.Millisecond)

	parser := ingress.NewParser()
	handler := ingress.NewHandler(parser, idemStore, convStore, st, cfg.WebhookSecret, logger, metrics)

	dlqManager := dlqadmin.New(rdb, streamTopic)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	})

	app.Use(backpressure.Middleware())
	app.Use(rateLimiter.Middleware())
	app.Use(throttle.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := pg.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "error": err.Error()})
		}
		if err := rdb.Ping(c.UserContext()).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	app.Post("/webhook", handler.HandleWebhook)

	admin := app.Group("/admin/dlq", dlqadmin.RequireAdminToken(cfg.DLQAdminToken))
	dlqadmin.RegisterRoutes(admin, dlqManager)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	logger.Info("webhook service started", zap.String("port", cfg.Port))

	<-ctx.Done()
	logger.Info("shutting down webhook service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("shutdown fiber app", zap.Error(err))
	}
}
