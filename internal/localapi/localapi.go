// Package localapi exposes the agent's loopback-only HTTP surface:
// health, Prometheus metrics, a redacted config view, and a feedback
// endpoint through which operators can push adaptive policies without
// going through the cloud broker.
package localapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/feedback"
)

// DefaultAddr is the loopback listen address. The local API must never
// bind a routable interface: it serves unauthenticated operational data.
const DefaultAddr = "127.0.0.1:8600"

// QueueStats reports persistent queue depths. *buffer.Store satisfies it.
type QueueStats interface {
	Size() (int, error)
	DLQSize() (int, error)
}

// ConfigView is the redacted configuration snapshot served by GET /config.
// The caller builds it from the full config; tokens and salts stay out.
type ConfigView struct {
	AgentID  string          `json:"agent_id"`
	TenantID string          `json:"tenant_id"`
	Site     string          `json:"site"`
	Agents   map[string]bool `json:"-"`
}

type agentStatus struct {
	Enabled bool `json:"enabled"`
}

type configResponse struct {
	AgentID  string                 `json:"agent_id"`
	TenantID string                 `json:"tenant_id"`
	Site     string                 `json:"site"`
	Agents   map[string]agentStatus `json:"agents"`
}

type queueSizes struct {
	Buffer int `json:"buffer"`
	DLQ    int `json:"dlq"`
}

type healthResponse struct {
	Status    string     `json:"status"`
	Time      string     `json:"time"`
	UptimeSec int64      `json:"uptime_sec"`
	Queues    queueSizes `json:"queues"`
}

type feedbackResponse struct {
	Status string          `json:"status"`
	Policy feedback.Policy `json:"policy"`
}

// RegisterRoutes mounts the local API endpoints onto the Echo instance and
// registers queue depth gauges on reg so they appear under GET /metrics.
func RegisterRoutes(
	e *echo.Echo,
	queues QueueStats,
	policies *feedback.Store,
	view ConfigView,
	reg *prometheus.Registry,
	logger *zap.Logger,
) {
	start := time.Now()
	registerGauges(reg, queues, start)

	e.GET("/health", healthHandler(queues, start, logger))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	e.GET("/config", configHandler(view))
	e.POST("/feedback", feedbackHandler(policies, logger))
}

func registerGauges(reg *prometheus.Registry, queues QueueStats, start time.Time) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fal_buffer_pending",
			Help: "Records pending in the local store-and-forward buffer.",
		},
		func() float64 {
			n, err := queues.Size()
			if err != nil {
				return 0
			}
			return float64(n)
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fal_dlq_size",
			Help: "Records parked in the dead letter queue.",
		},
		func() float64 {
			n, err := queues.DLQSize()
			if err != nil {
				return 0
			}
			return float64(n)
		},
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fal_agent_uptime_seconds",
			Help: "Seconds since the agent process started.",
		},
		func() float64 {
			return time.Since(start).Seconds()
		},
	))
}

func healthHandler(queues QueueStats, start time.Time, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		buffered, err := queues.Size()
		if err != nil {
			logger.Error("buffer size probe failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}
		parked, err := queues.DLQSize()
		if err != nil {
			logger.Error("dlq size probe failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}
		return c.JSON(http.StatusOK, healthResponse{
			Status:    "ok",
			Time:      time.Now().UTC().Format(time.RFC3339),
			UptimeSec: int64(time.Since(start).Seconds()),
			Queues:    queueSizes{Buffer: buffered, DLQ: parked},
		})
	}
}

func configHandler(view ConfigView) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := configResponse{
			AgentID:  view.AgentID,
			TenantID: view.TenantID,
			Site:     view.Site,
			Agents:   make(map[string]agentStatus, len(view.Agents)),
		}
		for tag, enabled := range view.Agents {
			resp.Agents[tag] = agentStatus{Enabled: enabled}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func feedbackHandler(policies *feedback.Store, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p feedback.Policy
		if err := c.Bind(&p); err != nil {
			return c.JSON(http.StatusBadRequest, errResp("invalid request body"))
		}
		if err := policies.Apply(p); err != nil {
			if errors.Is(err, feedback.ErrInvalidPolicy) {
				return c.JSON(http.StatusBadRequest, errResp(err.Error()))
			}
			logger.Error("policy apply failed", zap.String("agent", p.Agent), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
		}
		return c.JSON(http.StatusOK, feedbackResponse{Status: "applied", Policy: p})
	}
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
