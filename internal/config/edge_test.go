package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgefuse/fal/internal/config"
)

const sampleEdgeYAML = `
agent:
  id: acme-plant1-a1b2
  tenant_id: acme
  site: plant1
uplink:
  mssp_url: https://mssp.example.com
  token: fal_0123456789abcdef
  tls:
    mtls: true
    ca_cert: /etc/fal/ca.pem
    cert: /etc/fal/client.pem
    key: /etc/fal/client-key.pem
    verify: true
  retry:
    backoff_ms: [100, 300]
    max_retries: 4
    timeout_seconds: 10
  feedback:
    nats_url: nats://mssp.example.com:4222
buffer:
  path: /tmp/fal-buffer.db
  flush_batch: 100
  max_mb: 64
privacy:
  id_salt: pepper
  strip_fields: [payload, url]
agents:
  mqtt:
    enabled: true
    broker: tcp://127.0.0.1:1883
    topics: ["sensors/#"]
    thresholds:
      score_alert: 0.65
  http:
    enabled: false
    thresholds:
      score_alert: 0.7
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEdge_FullTree(t *testing.T) {
	cfg, err := config.LoadEdge(writeConfig(t, sampleEdgeYAML))
	require.NoError(t, err)

	assert.Equal(t, "acme-plant1-a1b2", cfg.Agent.ID)
	assert.Equal(t, "acme", cfg.Agent.TenantID)
	assert.Equal(t, "plant1", cfg.Agent.Site)
	assert.Equal(t, "UTC", cfg.Agent.Timezone)

	assert.Equal(t, "https://mssp.example.com", cfg.Uplink.MSSPURL)
	assert.Equal(t, "/api/fal/uer", cfg.Uplink.FALEndpoint)
	assert.True(t, cfg.Uplink.TLS.MTLS)
	assert.True(t, cfg.Uplink.TLS.VerifyEnabled())
	assert.Equal(t, []int{100, 300}, cfg.Uplink.Retry.BackoffMS)
	assert.Equal(t, 4, cfg.Uplink.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Uplink.Retry.Timeout())
	assert.Equal(t, "nats://mssp.example.com:4222", cfg.Uplink.Feedback.NATSURL)

	assert.Equal(t, "bbolt", cfg.Buffer.Backend)
	assert.Equal(t, 100, cfg.Buffer.FlushBatch)
	assert.Equal(t, "pepper", cfg.Privacy.IDSalt)
	assert.Equal(t, []string{"payload", "url"}, cfg.Privacy.StripFields)
	assert.Equal(t, "127.0.0.1:8600", cfg.LocalAPI.Addr)

	require.Contains(t, cfg.Agents, "mqtt")
	assert.True(t, cfg.Agents["mqtt"].Enabled)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.Agents["mqtt"].Broker)
	assert.InDelta(t, 0.65, cfg.Agents["mqtt"].Thresholds.ScoreAlert, 1e-9)
}

func TestLoadEdge_DefaultsApplied(t *testing.T) {
	minimal := `
agent:
  id: a-1
  tenant_id: t1
uplink:
  mssp_url: https://mssp.example.com
  token: tok
`
	cfg, err := config.LoadEdge(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "/api/fal/uer", cfg.Uplink.FALEndpoint)
	assert.Equal(t, []int{200, 500, 1000, 2000}, cfg.Uplink.Retry.BackoffMS)
	assert.Equal(t, 8, cfg.Uplink.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Uplink.Retry.Timeout())
	assert.Equal(t, "bbolt", cfg.Buffer.Backend)
	assert.Equal(t, "/var/lib/fal/buffer.db", cfg.Buffer.Path)
	assert.Equal(t, 500, cfg.Buffer.FlushBatch)
	assert.True(t, cfg.Uplink.TLS.VerifyEnabled())
}

func TestLoadEdge_CollectsAllErrors(t *testing.T) {
	broken := `
uplink:
  tls:
    mtls: true
`
	_, err := config.LoadEdge(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.id is required")
	assert.Contains(t, err.Error(), "agent.tenant_id is required")
	assert.Contains(t, err.Error(), "uplink.mssp_url is required")
	assert.Contains(t, err.Error(), "uplink.token is required")
	assert.Contains(t, err.Error(), "uplink.tls.cert and uplink.tls.key are required")
}

func TestLoadEdge_MissingFile(t *testing.T) {
	_, err := config.LoadEdge(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEdge_VerifyDisabled(t *testing.T) {
	body := `
agent: {id: a-1, tenant_id: t1}
uplink:
  mssp_url: https://mssp.example.com
  token: tok
  tls:
    verify: false
`
	cfg, err := config.LoadEdge(writeConfig(t, body))
	require.NoError(t, err)
	assert.False(t, cfg.Uplink.TLS.VerifyEnabled())
}

func TestEdge_DefaultThresholds(t *testing.T) {
	cfg, err := config.LoadEdge(writeConfig(t, sampleEdgeYAML))
	require.NoError(t, err)

	thr := cfg.DefaultThresholds()
	assert.InDelta(t, 0.65, thr["mqtt"], 1e-9)
	assert.InDelta(t, 0.7, thr["http"], 1e-9)

	enabled := cfg.EnabledAgents()
	assert.True(t, enabled["mqtt"])
	assert.False(t, enabled["http"])
}

func TestCloudFromEnv_Defaults(t *testing.T) {
	t.Setenv("FAL_WINDOW_SEC", "")
	t.Setenv("NATS_URL", "")

	cfg := config.CloudFromEnv()
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "https://your-cloud.example.com", cfg.PublicURL)
	assert.Equal(t, 5, cfg.Fusion.WindowSec)
	assert.InDelta(t, 0.9, cfg.Fusion.TrustAlpha, 1e-9)
	assert.InDelta(t, 0.6, cfg.Policy.Alert, 1e-9)
	assert.InDelta(t, 0.85, cfg.Policy.Action, 1e-9)
	assert.True(t, cfg.Policy.TwoStep)
	assert.Equal(t, 300, cfg.AFL.IntervalSec)
	assert.InDelta(t, 0.1, cfg.AFL.RecalRate, 1e-9)
}

func TestCloudFromEnv_Overrides(t *testing.T) {
	t.Setenv("FAL_WINDOW_SEC", "10")
	t.Setenv("FAL_TWO_STEP", "false")
	t.Setenv("FAL_ACTION_THRESHOLD", "0.9")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := config.CloudFromEnv()
	assert.Equal(t, 10, cfg.Fusion.WindowSec)
	assert.False(t, cfg.Policy.TwoStep)
	assert.InDelta(t, 0.9, cfg.Policy.Action, 1e-9)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}
