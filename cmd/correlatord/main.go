// The correlation daemon: consumes normalized records off the ingest
// stream, fuses per-tenant windows into posterior verdicts, runs the
// response policy, and publishes alerts.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/config"
	"github.com/edgefuse/fal/internal/correlator"
	"github.com/edgefuse/fal/internal/dispatcher"
	"github.com/edgefuse/fal/internal/natsclient"
	"github.com/edgefuse/fal/internal/policy"
	"github.com/edgefuse/fal/internal/secrets"
	"github.com/edgefuse/fal/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "fal-correlatord", otelEndpoint)
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
			secretPath = "secret/data/fal/correlatord"
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

	// ── Fusion pipeline ────────────────────────────────────────────────────
	trust := correlator.NewTrustStore(cfg.Fusion.TrustAlpha)
	fuser := correlator.NewFuser(trust, logger)
	windows := correlator.NewWindows(time.Duration(cfg.Fusion.WindowSec) * time.Second)
	engine := policy.NewEngine(cfg.Policy.Alert, cfg.Policy.Action, cfg.Policy.TwoStep, logger)

	var webhook *dispatcher.Dispatcher
	if cfg.WebhookURL != "" {
		webhook = dispatcher.New(cfg.WebhookURL, cfg.WebhookSecret, logger)
		logger.Info("webhook dispatcher enabled", zap.String("url", cfg.WebhookURL))
	}

	handle := func(ctx context.Context, res *correlator.GCResult) {
		dec := engine.Evaluate(res)
		if dec.Action == policy.ActionMonitor {
			return
		}
		alert := engine.NewAlert(dec, res)
		data, err := json.Marshal(alert)
		if err != nil {
			logger.Error("alert encode failed", zap.String("alert_id", alert.AlertID), zap.Error(err))
			return
		}
		// The alert id doubles as the dedup key, so a redelivered window
		// cannot fan out twice.
		if err := natsClient.Publish(natsclient.SubjectAlerts(alert.Tenant), alert.AlertID, data); err != nil {
			logger.Error("alert publish failed", zap.String("alert_id", alert.AlertID), zap.Error(err))
			return
		}
		if webhook != nil {
			// Deliver logs its own failures; the alert is already on the
			// stream either way.
			_ = webhook.Deliver(ctx, alert)
		}
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	consumer := correlator.NewConsumer(natsClient, windows, fuser, trust, handle, logger)
	if err := consumer.Start(consumerCtx); err != nil {
		logger.Fatal("failed to start correlator consumer", zap.Error(err))
	}
	logger.Info("correlator consumer started",
		zap.Int("window_sec", cfg.Fusion.WindowSec),
		zap.Float64("alert_threshold", cfg.Policy.Alert),
		zap.Float64("action_threshold", cfg.Policy.Action))

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	consumerCancel() // drain the fetch loops and the sweeper
	logger.Info("correlatord shut down cleanly")
}
