package admin

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
)

// Publisher is the slice of the stream client the outcome intake needs.
type Publisher interface {
	Publish(subject, msgID string, data []byte) error
}

// OutcomesHandler accepts analyst-labeled verdicts on past alerts and
// feeds them to the outcome stream, where the feedback loop and the
// trust ledger pick them up.
type OutcomesHandler struct {
	pub    Publisher
	logger *zap.Logger
}

func NewOutcomesHandler(pub Publisher, logger *zap.Logger) *OutcomesHandler {
	return &OutcomesHandler{pub: pub, logger: logger}
}

func (h *OutcomesHandler) Register(e *echo.Echo) {
	e.POST("/api/fal/admin/outcomes", h.SubmitOutcome)
}

type OutcomeRequest struct {
	Tenant   string   `json:"tenant"`
	Agent    string   `json:"agent"`
	Label    string   `json:"label"`
	Accuracy *float64 `json:"accuracy"`
}

type outcomeEvent struct {
	Tenant   string   `json:"tenant"`
	Agent    string   `json:"agent"`
	Label    string   `json:"label"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	TS       string   `json:"ts"`
}

func (h *OutcomesHandler) SubmitOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Tenant == "" || req.Agent == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant and agent required"})
	}
	switch req.Label {
	case "tp", "fp", "tn", "fn":
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "label must be one of tp, fp, tn, fn"})
	}
	if req.Accuracy != nil {
		a := *req.Accuracy
		if math.IsNaN(a) || a < 0 || a > 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "accuracy must be between 0 and 1"})
		}
	}

	data, err := json.Marshal(outcomeEvent{
		Tenant:   req.Tenant,
		Agent:    req.Agent,
		Label:    req.Label,
		Accuracy: req.Accuracy,
		TS:       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode outcome"})
	}

	if err := h.pub.Publish(natsclient.SubjectAFLOutcome(req.Tenant), "", data); err != nil {
		h.logger.Error("failed to publish outcome",
			zap.String("tenant", req.Tenant),
			zap.String("agent", req.Agent),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to publish outcome"})
	}

	h.logger.Info("outcome accepted",
		zap.String("tenant", req.Tenant),
		zap.String("agent", req.Agent),
		zap.String("label", req.Label))

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
