package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgefuse/fal/internal/config"
)

func TestOverlayCloud_ReplacesCredentialFields(t *testing.T) {
	cfg := &config.Cloud{
		PGURL:     "postgres://env/fal",
		NATSURL:   "nats://env:4222",
		RedisAddr: "env:6379",
	}

	OverlayCloud(cfg, map[string]interface{}{
		"PG_URL":             "postgres://vault/fal",
		"NATS_URL":           "nats://vault:4222",
		"REDIS_PASSWORD":     "hunter2",
		"FAL_WEBHOOK_SECRET": "wh-secret",
	})

	assert.Equal(t, "postgres://vault/fal", cfg.PGURL)
	assert.Equal(t, "nats://vault:4222", cfg.NATSURL)
	assert.Equal(t, "env:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, "wh-secret", cfg.WebhookSecret)
}

func TestOverlayCloud_IgnoresMissingAndNonString(t *testing.T) {
	cfg := &config.Cloud{PGURL: "postgres://env/fal"}

	OverlayCloud(cfg, map[string]interface{}{
		"PG_URL":   42,
		"NATS_URL": "",
	})

	assert.Equal(t, "postgres://env/fal", cfg.PGURL)
	assert.Empty(t, cfg.NATSURL)
}
