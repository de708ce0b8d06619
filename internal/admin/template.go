package admin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/edgefuse/fal/internal/config"
)

// TokenPlaceholder is emitted in config templates fetched after
// registration, when the raw token is no longer available to the server.
const TokenPlaceholder = "${FAL_AGENT_TOKEN}"

// configTemplate renders a ready-to-install agent.yaml for a freshly
// registered agent. Building a config.Edge and marshalling it keeps the
// template in lockstep with what config.LoadEdge accepts.
func configTemplate(agentID, tenantID, site, publicURL, token string) (string, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}

	cfg := config.Edge{
		Agent: config.AgentInfo{
			ID:       agentID,
			TenantID: tenantID,
			Site:     site,
			Timezone: "UTC",
		},
		Uplink: config.Uplink{
			MSSPURL:     publicURL,
			FALEndpoint: "/api/fal/uer",
			Token:       token,
			TLS: config.TLS{
				MTLS:   false,
				CACert: "/etc/fal/ca.pem",
			},
			Retry: config.Retry{
				BackoffMS:      []int{200, 500, 1000, 2000},
				MaxRetries:     8,
				TimeoutSeconds: 30,
			},
		},
		Buffer: config.Buffer{
			Backend:    "bbolt",
			Path:       "/var/lib/fal/buffer.db",
			FlushBatch: 500,
			MaxMB:      2048,
		},
		Privacy: config.Privacy{
			IDSalt:      hex.EncodeToString(salt),
			StripFields: []string{"usernames", "urls", "payload"},
		},
		LocalAPI: config.LocalAPI{
			Addr: "127.0.0.1:8600",
		},
		Agents: map[string]config.AgentConfig{
			"http": {
				Enabled:    true,
				Thresholds: config.Thresholds{ScoreAlert: 0.7},
			},
			"mqtt": {
				Enabled:    true,
				Thresholds: config.Thresholds{ScoreAlert: 0.65},
			},
		},
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(out), nil
}
