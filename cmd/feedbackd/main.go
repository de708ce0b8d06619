// The adaptive feedback daemon: tracks labeled outcomes per agent and
// periodically synthesizes tuned policies back to the edge.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/afl"
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
		tp, err := telemetry.InitTracer(context.Background(), "fal-feedbackd", otelEndpoint)
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
			secretPath = "secret/data/fal/feedbackd"
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

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// ── Feedback loop ──────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := afl.NewTracker(cfg.AFL.RecalRate, logger)

	consumer := afl.NewConsumer(natsClient, tracker, logger)
	if err := consumer.Start(runCtx); err != nil {
		logger.Fatal("failed to start outcome consumer", zap.Error(err))
	}
	logger.Info("outcome consumer started")

	loop := afl.NewLoop(tracker, natsClient, time.Duration(cfg.AFL.IntervalSec)*time.Second, logger)
	if err := loop.Start(runCtx); err != nil {
		logger.Fatal("failed to start policy loop", zap.Error(err))
	}

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	cancel() // drain the consumer loop and stop the cron sweep
	logger.Info("feedbackd shut down cleanly")
}
