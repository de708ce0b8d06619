package admin_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/edgefuse/fal/internal/admin"
	"github.com/edgefuse/fal/internal/admin/repository/db"
	"github.com/edgefuse/fal/internal/admin/repository/mock"
	"github.com/edgefuse/fal/internal/config"
)

const testPublicURL = "https://cloud.example.com"

func setupAgentsHandler(t *testing.T) (*admin.AgentsHandler, *mock.MockQuerier, *gomock.Controller) {
	ctrl := gomock.NewController(t)
	mockQ := mock.NewMockQuerier(ctrl)
	h := admin.NewAgentsHandler(mockQ, testPublicURL, zap.NewNop())
	return h, mockQ, ctrl
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

type registerResponse struct {
	Status      string `json:"status"`
	AgentID     string `json:"agent_id"`
	Credentials struct {
		AgentID     string    `json:"agent_id"`
		TenantID    string    `json:"tenant_id"`
		Site        string    `json:"site"`
		APIToken    string    `json:"api_token"`
		TokenPrefix string    `json:"token_prefix"`
		ExpiresAt   time.Time `json:"expires_at"`
		Metadata    struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"credentials"`
	ConfigTemplate string `json:"config_template"`
}

func TestRegisterAgent_Success(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	var captured db.CreateAgentParams
	mockQ.EXPECT().CreateAgent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, arg db.CreateAgentParams) (db.Agent, error) {
			captured = arg
			return db.Agent{
				AgentID:     arg.AgentID,
				TenantID:    arg.TenantID,
				Site:        arg.Site,
				Name:        arg.Name,
				TokenHash:   arg.TokenHash,
				TokenPrefix: arg.TokenPrefix,
				Status:      "active",
				CreatedAt:   pgtype.Timestamptz{Time: time.Now(), Valid: true},
				ExpiresAt:   arg.ExpiresAt,
			}, nil
		})

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents", `{"tenant_id":"acme","site":"plant-3","name":"East wing"}`)

	require.NoError(t, h.RegisterAgent(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "registered", resp.Status)
	assert.Regexp(t, `^acme-plant-3-[0-9a-f]{8}$`, resp.AgentID)
	assert.Equal(t, resp.AgentID, resp.Credentials.AgentID)
	assert.Equal(t, "acme", resp.Credentials.TenantID)
	assert.Equal(t, "plant-3", resp.Credentials.Site)
	assert.Equal(t, "East wing", resp.Credentials.Metadata.Name)

	token := resp.Credentials.APIToken
	require.Regexp(t, `^fal_[0-9a-f]{64}$`, token)
	assert.Equal(t, hashHex(token), captured.TokenHash)
	assert.Equal(t, token[:8]+"..."+token[len(token)-4:], resp.Credentials.TokenPrefix)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 365), resp.Credentials.ExpiresAt, time.Minute)

	// The template must round-trip through the config loader with the
	// real token already in place.
	var cfg config.Edge
	require.NoError(t, yaml.Unmarshal([]byte(resp.ConfigTemplate), &cfg))
	assert.Equal(t, resp.AgentID, cfg.Agent.ID)
	assert.Equal(t, "acme", cfg.Agent.TenantID)
	assert.Equal(t, token, cfg.Uplink.Token)
	assert.Equal(t, testPublicURL, cfg.Uplink.MSSPURL)
	assert.Len(t, cfg.Privacy.IDSalt, 64)
	require.NoError(t, cfg.Validate())
}

func TestRegisterAgent_DefaultsSiteAndName(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().CreateAgent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, arg db.CreateAgentParams) (db.Agent, error) {
			assert.Equal(t, "default", arg.Site)
			assert.Equal(t, "Agent", arg.Name)
			return db.Agent{AgentID: arg.AgentID, TenantID: arg.TenantID, Site: arg.Site, Name: arg.Name}, nil
		})

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents", `{"tenant_id":"acme"}`)

	require.NoError(t, h.RegisterAgent(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^acme-default-[0-9a-f]{8}$`, resp.AgentID)
}

func TestRegisterAgent_TenantRequired(t *testing.T) {
	h, _, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents", `{"site":"plant-3"}`)

	require.NoError(t, h.RegisterAgent(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_id required")
}

func TestRotateToken_Success(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	rotatedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mockQ.EXPECT().RotateAgentToken(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, arg db.RotateAgentTokenParams) (db.Agent, error) {
			assert.Equal(t, "acme-plant-3-1a2b3c4d", arg.AgentID)
			assert.NotEmpty(t, arg.TokenHash)
			return db.Agent{
				AgentID:   arg.AgentID,
				TokenHash: arg.TokenHash,
				Status:    "active",
				RotatedAt: pgtype.Timestamptz{Time: rotatedAt, Valid: true},
				ExpiresAt: arg.ExpiresAt,
			}, nil
		})

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/rotate", "")
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.RotateToken(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string    `json:"status"`
		AgentID  string    `json:"agent_id"`
		NewToken string    `json:"new_token"`
		RotateAt time.Time `json:"rotate_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rotated", resp.Status)
	assert.Equal(t, "acme-plant-3-1a2b3c4d", resp.AgentID)
	assert.Regexp(t, `^fal_[0-9a-f]{64}$`, resp.NewToken)
	assert.True(t, rotatedAt.Equal(resp.RotateAt))
}

func TestRotateToken_NotFound(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().RotateAgentToken(gomock.Any(), gomock.Any()).Return(db.Agent{}, pgx.ErrNoRows)

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents/ghost/rotate", "")
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	require.NoError(t, h.RotateToken(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent not found")
}

func TestVerifyToken(t *testing.T) {
	rawToken := "fal_" + strings.Repeat("ab", 32)
	future := pgtype.Timestamptz{Time: time.Now().Add(24 * time.Hour), Valid: true}
	past := pgtype.Timestamptz{Time: time.Now().Add(-time.Hour), Valid: true}

	tests := []struct {
		name  string
		agent db.Agent
		token string
		valid bool
	}{
		{
			name:  "live token",
			agent: db.Agent{Status: "active", TokenHash: hashHex(rawToken), ExpiresAt: future},
			token: rawToken,
			valid: true,
		},
		{
			name:  "wrong token",
			agent: db.Agent{Status: "active", TokenHash: hashHex(rawToken), ExpiresAt: future},
			token: "fal_" + strings.Repeat("cd", 32),
			valid: false,
		},
		{
			name:  "revoked agent",
			agent: db.Agent{Status: "revoked", TokenHash: hashHex(rawToken), ExpiresAt: future},
			token: rawToken,
			valid: false,
		},
		{
			name:  "expired token",
			agent: db.Agent{Status: "active", TokenHash: hashHex(rawToken), ExpiresAt: past},
			token: rawToken,
			valid: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, mockQ, ctrl := setupAgentsHandler(t)
			defer ctrl.Finish()

			mockQ.EXPECT().GetAgentByAgentID(gomock.Any(), "acme-plant-3-1a2b3c4d").Return(tc.agent, nil)

			e := echo.New()
			c, rec := postJSON(e, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/verify", `{"token":"`+tc.token+`"}`)
			c.SetParamNames("id")
			c.SetParamValues("acme-plant-3-1a2b3c4d")

			require.NoError(t, h.VerifyToken(c))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp map[string]bool
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.valid, resp["valid"])
		})
	}
}

func TestVerifyToken_UnknownAgentLooksInvalid(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().GetAgentByAgentID(gomock.Any(), "ghost").Return(db.Agent{}, pgx.ErrNoRows)

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents/ghost/verify", `{"token":"fal_beef"}`)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	require.NoError(t, h.VerifyToken(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestVerifyToken_MissingToken(t *testing.T) {
	h, _, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	e := echo.New()
	c, rec := postJSON(e, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/verify", `{}`)
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.VerifyToken(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeAgent(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().RevokeAgent(gomock.Any(), "acme-plant-3-1a2b3c4d").Return(int64(1), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.RevokeAgent(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRevokeAgent_AlreadyRevoked(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().RevokeAgent(gomock.Any(), "acme-plant-3-1a2b3c4d").Return(int64(0), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.RevokeAgent(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentConfig_RendersTemplate(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().GetAgentByAgentID(gomock.Any(), "acme-plant-3-1a2b3c4d").Return(db.Agent{
		AgentID:  "acme-plant-3-1a2b3c4d",
		TenantID: "acme",
		Site:     "plant-3",
		Status:   "active",
	}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/config", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.AgentConfig(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get(echo.HeaderContentType))

	var cfg config.Edge
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "acme-plant-3-1a2b3c4d", cfg.Agent.ID)
	assert.Equal(t, "acme", cfg.Agent.TenantID)
	assert.Equal(t, "plant-3", cfg.Agent.Site)
	assert.Equal(t, admin.TokenPlaceholder, cfg.Uplink.Token)
	assert.Len(t, cfg.Privacy.IDSalt, 64)
	assert.Equal(t, 0.65, cfg.Agents["mqtt"].Thresholds.ScoreAlert)
}

func TestAgentConfig_FreshSaltPerRender(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	agent := db.Agent{AgentID: "acme-plant-3-1a2b3c4d", TenantID: "acme", Site: "plant-3", Status: "active"}
	mockQ.EXPECT().GetAgentByAgentID(gomock.Any(), gomock.Any()).Return(agent, nil).Times(2)

	e := echo.New()
	salts := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/config", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("acme-plant-3-1a2b3c4d")

		require.NoError(t, h.AgentConfig(c))
		var cfg config.Edge
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &cfg))
		salts = append(salts, cfg.Privacy.IDSalt)
	}
	assert.NotEqual(t, salts[0], salts[1])
}

func TestAgentConfig_RevokedAgentHidden(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	mockQ.EXPECT().GetAgentByAgentID(gomock.Any(), "acme-plant-3-1a2b3c4d").Return(db.Agent{
		AgentID: "acme-plant-3-1a2b3c4d",
		Status:  "revoked",
	}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/fal/admin/agents/acme-plant-3-1a2b3c4d/config", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("acme-plant-3-1a2b3c4d")

	require.NoError(t, h.AgentConfig(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgents(t *testing.T) {
	h, mockQ, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	created := pgtype.Timestamptz{Time: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), Valid: true}
	expires := pgtype.Timestamptz{Time: time.Date(2027, 3, 14, 9, 0, 0, 0, time.UTC), Valid: true}
	mockQ.EXPECT().ListAgentsByTenant(gomock.Any(), "acme").Return([]db.Agent{
		{
			AgentID:     "acme-plant-3-1a2b3c4d",
			Site:        "plant-3",
			Name:        "East wing",
			Status:      "active",
			TokenPrefix: "fal_ab12...ef99",
			CreatedAt:   created,
			ExpiresAt:   expires,
		},
	}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/fal/admin/agents?tenant_id=acme", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.ListAgents(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []struct {
		AgentID     string     `json:"agent_id"`
		Site        string     `json:"site"`
		Status      string     `json:"status"`
		TokenPrefix string     `json:"token_prefix"`
		RotatedAt   *time.Time `json:"rotated_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "acme-plant-3-1a2b3c4d", resp[0].AgentID)
	assert.Equal(t, "fal_ab12...ef99", resp[0].TokenPrefix)
	assert.Nil(t, resp[0].RotatedAt)
}

func TestListAgents_TenantRequired(t *testing.T) {
	h, _, ctrl := setupAgentsHandler(t)
	defer ctrl.Finish()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/fal/admin/agents", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.ListAgents(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
