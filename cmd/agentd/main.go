// The edge agent daemon: protocol agents, local detection, privacy
// normalization, store-and-forward uplink, and the loopback API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/agents"
	"github.com/edgefuse/fal/internal/buffer"
	"github.com/edgefuse/fal/internal/config"
	"github.com/edgefuse/fal/internal/feedback"
	"github.com/edgefuse/fal/internal/localapi"
	"github.com/edgefuse/fal/internal/natsclient"
	"github.com/edgefuse/fal/internal/supervisor"
	"github.com/edgefuse/fal/internal/uer"
	"github.com/edgefuse/fal/internal/uplink"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfgPath := os.Getenv("FAL_CONFIG")
	if cfgPath == "" {
		cfgPath = config.DefaultEdgePath
	}
	cfg, err := config.LoadEdge(cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger = logger.With(
		zap.String("agent_id", cfg.Agent.ID),
		zap.String("tenant", cfg.Agent.TenantID),
	)

	// ── Durable buffer ─────────────────────────────────────────────────────
	buf, err := buffer.Open(cfg.Buffer.Path)
	if err != nil {
		logger.Fatal("buffer open failed", zap.Error(err))
	}
	// The supervisor owns the buffer from here; it closes it last during
	// shutdown, after every worker has stopped writing.

	reg := prometheus.NewRegistry()

	// ── Uplink ─────────────────────────────────────────────────────────────
	conn, err := uplink.New(uplink.Config{
		MSSPURL:  cfg.Uplink.MSSPURL,
		Endpoint: cfg.Uplink.FALEndpoint,
		Token:    cfg.Uplink.Token,
		TenantID: cfg.Agent.TenantID,
		AgentID:  cfg.Agent.ID,
		Timeout:  cfg.Uplink.Retry.Timeout(),
		Retry: uplink.RetryPolicy{
			BackoffMS:  cfg.Uplink.Retry.BackoffMS,
			MaxRetries: cfg.Uplink.Retry.MaxRetries,
		},
		FlushBatch: cfg.Buffer.FlushBatch,
		TLS: uplink.TLSConfig{
			MTLS:   cfg.Uplink.TLS.MTLS,
			CACert: cfg.Uplink.TLS.CACert,
			Cert:   cfg.Uplink.TLS.Cert,
			Key:    cfg.Uplink.TLS.Key,
			Verify: cfg.Uplink.TLS.VerifyEnabled(),
		},
	}, buf, logger, uplink.WithMetrics(uplink.NewMetrics(reg)))
	if err != nil {
		logger.Fatal("uplink init failed", zap.Error(err))
	}

	// ── Adaptive policies ──────────────────────────────────────────────────
	policyPath := filepath.Join(filepath.Dir(cfg.Buffer.Path), "policies.json")
	policies := feedback.NewStore(policyPath, cfg.DefaultThresholds(), logger)
	if err := policies.Load(); err != nil {
		logger.Warn("policy restore failed", zap.Error(err))
	}

	var subCancel context.CancelFunc
	if url := cfg.Uplink.Feedback.NATSURL; url != "" {
		nc, err := natsclient.NewClient(url, logger)
		if err != nil {
			logger.Fatal("NATS initialization failed", zap.Error(err))
		}
		defer nc.Close()

		sub := feedback.NewSubscriber(nc, policies, cfg.Agent.TenantID, cfg.Agent.ID, logger)
		var subCtx context.Context
		subCtx, subCancel = context.WithCancel(context.Background())
		if err := sub.Start(subCtx); err != nil {
			logger.Fatal("feedback subscriber start failed", zap.Error(err))
		}
		logger.Info("feedback subscriber started", zap.String("nats_url", url))
	}

	// ── Protocol agents ────────────────────────────────────────────────────
	agentCfgs := make(map[string]agents.Config, len(cfg.Agents))
	for tag, a := range cfg.Agents {
		agentCfgs[tag] = agents.Config{
			Enabled:  a.Enabled,
			Broker:   a.Broker,
			Topics:   a.Topics,
			Interval: a.Interval(),
		}
	}
	protoAgents, err := agents.FromConfig(agentCfgs, logger)
	if err != nil {
		logger.Fatal("agent construction failed", zap.Error(err))
	}

	// ── Supervisor ─────────────────────────────────────────────────────────
	normalizer := uer.NewNormalizer(
		cfg.Agent.TenantID,
		cfg.Agent.Site,
		cfg.Privacy.IDSalt,
		cfg.Privacy.StripFields,
	)
	sup := supervisor.New(supervisor.Deps{
		Agents:     protoAgents,
		Normalizer: normalizer,
		Connector:  conn,
		Policies:   policies,
		Buffer:     buf,
		Log:        logger,
	}, supervisor.WithMetrics(supervisor.NewMetrics(reg)))
	sup.Start()

	// ── Local API ──────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	localapi.RegisterRoutes(e, buf, policies, localapi.ConfigView{
		AgentID:  cfg.Agent.ID,
		TenantID: cfg.Agent.TenantID,
		Site:     cfg.Agent.Site,
		Agents:   cfg.EnabledAgents(),
	}, reg, logger)

	go func() {
		logger.Info("local API listening", zap.String("addr", cfg.LocalAPI.Addr))
		if err := e.Start(cfg.LocalAPI.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("local API failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	if subCancel != nil {
		subCancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	if err := sup.Stop(); err != nil {
		logger.Error("supervisor stop error", zap.Error(err))
	}
	logger.Info("edge agent shut down cleanly")
}
