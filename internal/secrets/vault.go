// Package secrets reads deployment credentials from Vault and overlays
// them onto the environment-derived cloud configuration. Vault is
// optional; daemons run from plain environment variables when no
// VAULT_ADDR is configured.
package secrets

import (
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/edgefuse/fal/internal/config"
)

// Manager wraps the Vault API client for reading secrets.
type Manager struct {
	client *api.Client
}

// NewManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewManager(address, token string) (*Manager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &Manager{client: client}, nil
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (m *Manager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := m.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 is a convenience wrapper that reads from a KV v2 backend and
// returns the inner "data" map, unwrapping the v2 envelope automatically.
func (m *Manager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := m.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// OverlayCloud replaces the credential-bearing fields of cfg with values
// from a Vault secret map. Keys mirror the environment variable names so
// the same compose file works with or without Vault.
func OverlayCloud(cfg *config.Cloud, data map[string]interface{}) {
	if v, ok := data["PG_URL"].(string); ok && v != "" {
		cfg.PGURL = v
	}
	if v, ok := data["NATS_URL"].(string); ok && v != "" {
		cfg.NATSURL = v
	}
	if v, ok := data["REDIS_ADDR"].(string); ok && v != "" {
		cfg.RedisAddr = v
	}
	if v, ok := data["REDIS_PASSWORD"].(string); ok && v != "" {
		cfg.RedisPassword = v
	}
	if v, ok := data["FAL_WEBHOOK_URL"].(string); ok && v != "" {
		cfg.WebhookURL = v
	}
	if v, ok := data["FAL_WEBHOOK_SECRET"].(string); ok && v != "" {
		cfg.WebhookSecret = v
	}
}
