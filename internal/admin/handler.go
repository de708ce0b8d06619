// Package admin implements the agent registry for the cloud platform:
// registration, token rotation and revocation, ready-to-run config
// templates, token verification for the gateway, and the labeled
// outcome intake that drives the adaptive feedback loop.
package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/admin/repository/db"
)

// tokenLifetime is how long a freshly issued or rotated token stays valid.
const tokenLifetime = 365 * 24 * time.Hour

type AgentsHandler struct {
	querier   db.Querier
	publicURL string
	logger    *zap.Logger
}

func NewAgentsHandler(q db.Querier, publicURL string, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{querier: q, publicURL: publicURL, logger: logger}
}

func (h *AgentsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/fal/admin")
	g.GET("/agents", h.ListAgents)
	g.POST("/agents", h.RegisterAgent)
	g.POST("/agents/:id/rotate", h.RotateToken)
	g.POST("/agents/:id/verify", h.VerifyToken)
	g.DELETE("/agents/:id", h.RevokeAgent)
	g.GET("/agents/:id/config", h.AgentConfig)
}

func (h *AgentsHandler) ListAgents(c echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant_id required"})
	}

	agents, err := h.querier.ListAgentsByTenant(c.Request().Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list agents", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list agents"})
	}

	type agentResponse struct {
		AgentID     string     `json:"agent_id"`
		Site        string     `json:"site"`
		Name        string     `json:"name"`
		Status      string     `json:"status"`
		TokenPrefix string     `json:"token_prefix"`
		CreatedAt   time.Time  `json:"created_at"`
		RotatedAt   *time.Time `json:"rotated_at"`
		ExpiresAt   time.Time  `json:"expires_at"`
	}

	resp := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		var rotatedAt *time.Time
		if a.RotatedAt.Valid {
			t := a.RotatedAt.Time
			rotatedAt = &t
		}
		resp = append(resp, agentResponse{
			AgentID:     a.AgentID,
			Site:        a.Site,
			Name:        a.Name,
			Status:      a.Status,
			TokenPrefix: a.TokenPrefix,
			CreatedAt:   a.CreatedAt.Time,
			RotatedAt:   rotatedAt,
			ExpiresAt:   a.ExpiresAt.Time,
		})
	}

	return c.JSON(http.StatusOK, resp)
}

type RegisterAgentRequest struct {
	TenantID string `json:"tenant_id"`
	Site     string `json:"site"`
	Name     string `json:"name"`
}

func (h *AgentsHandler) RegisterAgent(c echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.TenantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tenant_id required"})
	}
	if req.Site == "" {
		req.Site = "default"
	}
	if req.Name == "" {
		req.Name = "Agent"
	}

	agentID := newAgentID(req.TenantID, req.Site)
	rawToken, tokenHash := generateAgentToken()
	expiresAt := pgtype.Timestamptz{Time: time.Now().Add(tokenLifetime), Valid: true}

	agent, err := h.querier.CreateAgent(c.Request().Context(), db.CreateAgentParams{
		AgentID:     agentID,
		TenantID:    req.TenantID,
		Site:        req.Site,
		Name:        req.Name,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix(rawToken),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		h.logger.Error("failed to register agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to register agent"})
	}

	template, err := configTemplate(agent.AgentID, agent.TenantID, agent.Site, h.publicURL, rawToken)
	if err != nil {
		h.logger.Error("failed to render config template", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to render config template"})
	}

	h.logger.Info("agent registered",
		zap.String("agent_id", agent.AgentID),
		zap.String("tenant", agent.TenantID),
		zap.String("site", agent.Site))

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "registered",
		"agent_id": agent.AgentID,
		"credentials": map[string]interface{}{
			"agent_id":     agent.AgentID,
			"tenant_id":    agent.TenantID,
			"site":         agent.Site,
			"api_token":    rawToken, // returned only once
			"token_prefix": agent.TokenPrefix,
			"expires_at":   agent.ExpiresAt.Time,
			"metadata":     map[string]string{"name": agent.Name},
		},
		"config_template": template,
	})
}

func (h *AgentsHandler) RotateToken(c echo.Context) error {
	agentID := c.Param("id")
	rawToken, tokenHash := generateAgentToken()

	agent, err := h.querier.RotateAgentToken(c.Request().Context(), db.RotateAgentTokenParams{
		AgentID:     agentID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix(rawToken),
		ExpiresAt:   pgtype.Timestamptz{Time: time.Now().Add(tokenLifetime), Valid: true},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
		}
		h.logger.Error("failed to rotate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to rotate token"})
	}

	h.logger.Info("agent token rotated", zap.String("agent_id", agent.AgentID))

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "rotated",
		"agent_id":  agent.AgentID,
		"new_token": rawToken,
		"rotate_at": agent.RotatedAt.Time,
	})
}

type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyToken is the auth backend for the gateway: it answers whether a
// presented bearer token is the live token of the named agent. The
// response shape is identical for unknown agents and wrong tokens.
func (h *AgentsHandler) VerifyToken(c echo.Context) error {
	var req VerifyTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token required"})
	}

	agent, err := h.querier.GetAgentByAgentID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusOK, map[string]bool{"valid": false})
		}
		h.logger.Error("failed to verify token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to verify token"})
	}

	match := subtle.ConstantTimeCompare([]byte(hashToken(req.Token)), []byte(agent.TokenHash)) == 1
	valid := match &&
		agent.Status == "active" &&
		agent.ExpiresAt.Valid &&
		time.Now().Before(agent.ExpiresAt.Time)

	return c.JSON(http.StatusOK, map[string]bool{"valid": valid})
}

func (h *AgentsHandler) RevokeAgent(c echo.Context) error {
	affected, err := h.querier.RevokeAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to revoke agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to revoke agent"})
	}
	if affected == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}

	h.logger.Info("agent revoked", zap.String("agent_id", c.Param("id")))

	return c.NoContent(http.StatusNoContent)
}

// AgentConfig re-renders the install template for an active agent. The
// stored hash cannot be reversed, so the token field carries a
// placeholder for the operator to substitute.
func (h *AgentsHandler) AgentConfig(c echo.Context) error {
	agent, err := h.querier.GetAgentByAgentID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
		}
		h.logger.Error("failed to load agent", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load agent"})
	}
	if agent.Status != "active" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "agent not found"})
	}

	template, err := configTemplate(agent.AgentID, agent.TenantID, agent.Site, h.publicURL, TokenPlaceholder)
	if err != nil {
		h.logger.Error("failed to render config template", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to render config template"})
	}

	return c.Blob(http.StatusOK, "application/x-yaml", []byte(template))
}
