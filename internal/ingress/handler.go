package ingress

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/middleware"
)

// Handler exposes the ingest pipeline over HTTP.
type Handler struct {
	svc *Service
	log *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

// Register mounts the ingest routes on the provided Echo instance.
func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("/api/fal")
	g.POST("/uer", h.IngestSingle)
	g.POST("/uer/_bulk", h.IngestBulk)
}

// IngestSingle accepts one UER record.
//
// @Summary      Ingest a single UER
// @Description  Validates, deduplicates, and forwards one record onto the tenant's event stream.
// @ID           ingest-uer
// @Tags         Ingress
// @Accept       json
// @Produce      json
// @Success      200  {object}  ingress.Result
// @Failure      400  {object}  map[string]string
// @Router       /api/fal/uer [post]
func (h *Handler) IngestSingle(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, tOK := middleware.GetTenantID(ctx)
	agentID, aOK := middleware.GetAgentID(ctx)
	if !tOK || !aOK {
		return c.JSON(http.StatusBadRequest, errResp("Missing X-Tenant-ID or X-Agent-ID"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errResp("unreadable body"))
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, errResp("No JSON body"))
	}

	res, err := h.svc.Ingest(ctx, tenant, agentID, body)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, errResp(verr.Msg))
		}
		h.log.Error("ingest failed", zap.String("tenant", tenant), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, res)
}

// IngestBulk accepts an NDJSON batch of UER records.
//
// @Summary      Ingest UERs in bulk
// @Description  Accepts newline-delimited records. Bad lines are reported with zero-based indices; good lines flow on.
// @ID           ingest-uer-bulk
// @Tags         Ingress
// @Accept       plain
// @Produce      json
// @Success      200  {object}  ingress.BulkResult
// @Failure      400  {object}  map[string]string
// @Router       /api/fal/uer/_bulk [post]
func (h *Handler) IngestBulk(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, tOK := middleware.GetTenantID(ctx)
	agentID, aOK := middleware.GetAgentID(ctx)
	if !tOK || !aOK {
		return c.JSON(http.StatusBadRequest, errResp("Missing headers"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errResp("unreadable body"))
	}

	res, err := h.svc.IngestBulk(ctx, tenant, agentID, body)
	if err != nil {
		h.log.Error("bulk ingest failed", zap.String("tenant", tenant), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errResp(err.Error()))
	}
	return c.JSON(http.StatusOK, res)
}

func errResp(msg string) map[string]string {
	return map[string]string{"error": msg}
}
