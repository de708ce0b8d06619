// The cloud ingress daemon: validates edge submissions, deduplicates by
// uid, and publishes accepted records to the correlation stream.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/config"
	"github.com/edgefuse/fal/internal/ingress"
	agentmw "github.com/edgefuse/fal/internal/middleware"
	"github.com/edgefuse/fal/internal/natsclient"
	"github.com/edgefuse/fal/internal/secrets"
	"github.com/edgefuse/fal/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "fal-ingressd", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "fal-ingressd", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			logger.Info("OTel meter provider initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Configuration ──────────────────────────────────────────────────────
	cfg := config.CloudFromEnv()
	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		secretPath := os.Getenv("VAULT_SECRET_PATH")
		if secretPath == "" {
			secretPath = "secret/data/fal/ingressd"
		}
		manager, err := secrets.NewManager(vaultAddr, os.Getenv("VAULT_TOKEN"))
		if err != nil {
			logger.Fatal("Vault connection failed", zap.Error(err))
		}
		data, err := manager.GetKV2(secretPath)
		if err != nil {
			logger.Fatal("Failed to load secrets from Vault", zap.Error(err))
		}
		secrets.OverlayCloud(cfg, data)
		logger.Info("secrets loaded from Vault", zap.String("path", secretPath))
	}

	// ── Redis (idempotency cache) ──────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	pingCancel()
	defer rdb.Close()

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// ── HTTP Server ────────────────────────────────────────────────────────
	svc := ingress.NewService(ingress.NewRedisCache(rdb), natsClient, logger)
	handler := ingress.NewHandler(svc, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("fal-ingressd"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(agentmw.AgentContextMiddleware())

	handler.Register(e)

	go func() {
		logger.Info("ingress HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("ingressd shut down cleanly")
}
