// Package config loads and validates configuration for the edge agent
// and the cloud services. The edge agent reads a YAML file; cloud
// services are configured through the environment so they can run
// unchanged across compose files and cluster manifests.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEdgePath is where the provisioning template installs the agent config.
const DefaultEdgePath = "/etc/fal/agent.yaml"

// Edge is the full edge agent configuration tree.
type Edge struct {
	Agent    AgentInfo              `yaml:"agent"`
	Uplink   Uplink                 `yaml:"uplink"`
	Buffer   Buffer                 `yaml:"buffer"`
	Privacy  Privacy                `yaml:"privacy"`
	LocalAPI LocalAPI               `yaml:"local_api"`
	Agents   map[string]AgentConfig `yaml:"agents"`
}

// AgentInfo identifies this agent installation.
type AgentInfo struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	Site     string `yaml:"site"`
	Timezone string `yaml:"timezone"`
}

// Uplink configures the connection to the cloud ingress.
type Uplink struct {
	MSSPURL     string   `yaml:"mssp_url"`
	FALEndpoint string   `yaml:"fal_endpoint"`
	Token       string   `yaml:"token"`
	TLS         TLS      `yaml:"tls"`
	Retry       Retry    `yaml:"retry"`
	Feedback    Feedback `yaml:"feedback"`
}

// TLS holds the client-side transport options. Verify is a pointer so
// that an absent key means "verify", not "skip".
type TLS struct {
	MTLS   bool   `yaml:"mtls"`
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
	Verify *bool  `yaml:"verify,omitempty"`
}

// VerifyEnabled reports whether server certificate verification is on.
func (t TLS) VerifyEnabled() bool {
	return t.Verify == nil || *t.Verify
}

// Retry configures the uplink retry schedule.
type Retry struct {
	BackoffMS      []int `yaml:"backoff_ms"`
	MaxRetries     int   `yaml:"max_retries"`
	TimeoutSeconds int   `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout as a duration.
func (r Retry) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Feedback configures the adaptive policy subscription.
type Feedback struct {
	NATSURL string `yaml:"nats_url"`
}

// Buffer configures the durable store-and-forward queue.
type Buffer struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	FlushBatch int    `yaml:"flush_batch"`
	MaxMB      int    `yaml:"max_mb"`
}

// Privacy configures device identifier hashing and feature stripping.
type Privacy struct {
	IDSalt      string   `yaml:"id_salt"`
	StripFields []string `yaml:"strip_fields"`
}

// LocalAPI configures the loopback HTTP surface.
type LocalAPI struct {
	Addr string `yaml:"addr"`
}

// AgentConfig configures one protocol agent.
type AgentConfig struct {
	Enabled         bool       `yaml:"enabled"`
	Broker          string     `yaml:"broker"`
	Topics          []string   `yaml:"topics"`
	IntervalSeconds float64    `yaml:"interval_seconds"`
	Thresholds      Thresholds `yaml:"thresholds"`
}

// Thresholds holds per-agent detection thresholds.
type Thresholds struct {
	ScoreAlert float64 `yaml:"score_alert"`
}

// Interval returns the synthetic collection interval as a duration.
func (a AgentConfig) Interval() time.Duration {
	if a.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(a.IntervalSeconds * float64(time.Second))
}

// LoadEdge reads, defaults, and validates an edge configuration file.
func LoadEdge(path string) (*Edge, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Edge
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (e *Edge) ApplyDefaults() {
	if e.Agent.Timezone == "" {
		e.Agent.Timezone = "UTC"
	}
	if e.Uplink.FALEndpoint == "" {
		e.Uplink.FALEndpoint = "/api/fal/uer"
	}
	if len(e.Uplink.Retry.BackoffMS) == 0 {
		e.Uplink.Retry.BackoffMS = []int{200, 500, 1000, 2000}
	}
	if e.Uplink.Retry.MaxRetries == 0 {
		e.Uplink.Retry.MaxRetries = 8
	}
	if e.Uplink.Retry.TimeoutSeconds == 0 {
		e.Uplink.Retry.TimeoutSeconds = 30
	}
	if e.Buffer.Backend == "" {
		e.Buffer.Backend = "bbolt"
	}
	if e.Buffer.Path == "" {
		e.Buffer.Path = "/var/lib/fal/buffer.db"
	}
	if e.Buffer.FlushBatch == 0 {
		e.Buffer.FlushBatch = 500
	}
	if e.LocalAPI.Addr == "" {
		e.LocalAPI.Addr = "127.0.0.1:8600"
	}
}

// Validate reports every configuration problem at once.
func (e *Edge) Validate() error {
	var errs []error
	if e.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	if e.Agent.TenantID == "" {
		errs = append(errs, errors.New("agent.tenant_id is required"))
	}
	if e.Uplink.MSSPURL == "" {
		errs = append(errs, errors.New("uplink.mssp_url is required"))
	}
	if e.Uplink.Token == "" {
		errs = append(errs, errors.New("uplink.token is required"))
	}
	if e.Uplink.TLS.MTLS {
		if e.Uplink.TLS.Cert == "" || e.Uplink.TLS.Key == "" {
			errs = append(errs, errors.New("uplink.tls.cert and uplink.tls.key are required when mtls is enabled"))
		}
	}
	if e.Buffer.FlushBatch < 1 {
		errs = append(errs, errors.New("buffer.flush_batch must be positive"))
	}
	for _, ms := range e.Uplink.Retry.BackoffMS {
		if ms <= 0 {
			errs = append(errs, fmt.Errorf("uplink.retry.backoff_ms entries must be positive, got %d", ms))
		}
	}
	return errors.Join(errs...)
}

// DefaultThresholds maps each configured agent tag to its score_alert
// threshold, for seeding the policy store before any feedback arrives.
func (e *Edge) DefaultThresholds() map[string]float64 {
	out := make(map[string]float64, len(e.Agents))
	for tag, a := range e.Agents {
		if a.Thresholds.ScoreAlert > 0 {
			out[tag] = a.Thresholds.ScoreAlert
		}
	}
	return out
}

// EnabledAgents lists the tags with enabled protocol agents.
func (e *Edge) EnabledAgents() map[string]bool {
	out := make(map[string]bool, len(e.Agents))
	for tag, a := range e.Agents {
		out[tag] = a.Enabled
	}
	return out
}
