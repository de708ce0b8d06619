// The admin daemon: agent registration and credential lifecycle backed
// by Postgres, plus the labeled outcome intake for the feedback loop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/admin"
	db "github.com/edgefuse/fal/internal/admin/repository/db"
	"github.com/edgefuse/fal/internal/config"
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
		tp, err := telemetry.InitTracer(context.Background(), "fal-admind", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Configuration ──────────────────────────────────────────────────────
	cfg := config.CloudFromEnv()
	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		secretPath := os.Getenv("VAULT_SECRET_PATH")
		if secretPath == "" {
			secretPath = "secret/data/fal/admind"
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
	if cfg.PGURL == "" {
		logger.Fatal("PG_URL is required")
	}

	// ── Database ───────────────────────────────────────────────────────────
	poolCfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

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
	querier := db.New(pool)
	agentsHandler := admin.NewAgentsHandler(querier, cfg.PublicURL, logger)
	outcomesHandler := admin.NewOutcomesHandler(natsClient, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("fal-admind"))
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

	agentsHandler.Register(e)
	outcomesHandler.Register(e)

	go func() {
		logger.Info("admin HTTP server listening", zap.String("addr", cfg.HTTPAddr))
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
	logger.Info("admind shut down cleanly")
}
