// Package feedback receives adaptive policies from the cloud and makes
// them available to the edge agents. Policies are persisted before they
// are acknowledged, so an applied policy survives a crash.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is the policy wire schema tag.
const SchemaVersion = "afl-v1.1"

var ErrInvalidPolicy = errors.New("invalid policy")

// Policy is one per-agent tuning directive, keyed by protocol tag.
type Policy struct {
	Agent      string     `json:"agent"`
	Thresholds Thresholds `json:"thresholds"`
	Sampling   Sampling   `json:"sampling"`
	Trust      Trust      `json:"trust"`
	TS         string     `json:"ts"`
	Schema     string     `json:"schema,omitempty"`
}

type Thresholds struct {
	ScoreAlert float64 `json:"score_alert"`
}

type Sampling struct {
	Rate float64 `json:"rate"`
}

type Trust struct {
	W     float64 `json:"w"`
	Decay float64 `json:"decay"`
}

func (p Policy) timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339, p.TS)
}

// Store holds the last applied policy per agent tag. Reads come from
// every agent worker on every event; writes come from the feedback
// subscriber and the local HTTP surface.
type Store struct {
	mu       sync.RWMutex
	path     string
	policies map[string]Policy

	defaults         map[string]float64
	defaultThreshold float64

	log *zap.Logger
}

// NewStore creates a policy store persisting to path. defaults maps
// agent tags to their configured score_alert thresholds, used until a
// policy arrives for that tag.
func NewStore(path string, defaults map[string]float64, log *zap.Logger) *Store {
	d := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Store{
		path:             path,
		policies:         make(map[string]Policy),
		defaults:         d,
		defaultThreshold: 0.7,
		log:              log,
	}
}

// Load restores previously persisted policies. A missing file is not an
// error; the store simply starts empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feedback: read %s: %w", s.path, err)
	}
	policies := make(map[string]Policy)
	if err := json.Unmarshal(data, &policies); err != nil {
		return fmt.Errorf("feedback: decode %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.policies = policies
	s.mu.Unlock()
	s.log.Info("policies loaded", zap.Int("count", len(policies)))
	return nil
}

// Apply installs a policy. A policy older than, or as old as, the one
// already held for the same agent is a no-op, which makes redelivery
// harmless. The store persists to disk before returning success; a nil
// return is the acknowledgement.
func (s *Store) Apply(p Policy) error {
	if p.Agent == "" {
		return fmt.Errorf("%w: missing agent", ErrInvalidPolicy)
	}
	ts, err := p.timestamp()
	if err != nil {
		return fmt.Errorf("%w: bad ts %q", ErrInvalidPolicy, p.TS)
	}
	if p.Thresholds.ScoreAlert < 0 || p.Thresholds.ScoreAlert > 1 {
		return fmt.Errorf("%w: score_alert %v not in [0,1]", ErrInvalidPolicy, p.Thresholds.ScoreAlert)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.policies[p.Agent]; ok {
		prevTS, err := prev.timestamp()
		if err == nil && !ts.After(prevTS) {
			s.log.Debug("stale policy ignored",
				zap.String("agent", p.Agent),
				zap.String("ts", p.TS))
			return nil
		}
	}

	prev, hadPrev := s.policies[p.Agent]
	s.policies[p.Agent] = p
	if err := s.persistLocked(); err != nil {
		if hadPrev {
			s.policies[p.Agent] = prev
		} else {
			delete(s.policies, p.Agent)
		}
		return err
	}

	s.log.Info("policy applied",
		zap.String("agent", p.Agent),
		zap.Float64("score_alert", p.Thresholds.ScoreAlert),
		zap.Float64("sampling_rate", p.Sampling.Rate),
		zap.Float64("trust_w", p.Trust.W))
	return nil
}

// persistLocked writes the policy map via a temp file in the same
// directory and renames it over the target, so readers of the file
// never observe a partial write.
func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.policies)
	if err != nil {
		return fmt.Errorf("feedback: encode policies: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".policies-*")
	if err != nil {
		return fmt.Errorf("feedback: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("feedback: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("feedback: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("feedback: rename temp file: %w", err)
	}
	return nil
}

// Policy returns the last applied policy for the agent.
func (s *Store) Policy(agent string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[agent]
	return p, ok
}

// Threshold returns the effective alert threshold for the agent: the
// last applied policy's score_alert, else the configured default for
// that tag, else 0.7.
func (s *Store) Threshold(agent string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[agent]; ok {
		return p.Thresholds.ScoreAlert
	}
	if v, ok := s.defaults[agent]; ok {
		return v
	}
	return s.defaultThreshold
}

// SamplingRate returns the effective sampling rate for the agent.
// Agents without a policy run unsampled.
func (s *Store) SamplingRate(agent string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[agent]; ok && p.Sampling.Rate > 0 {
		return p.Sampling.Rate
	}
	return 1.0
}

// All returns a copy of the current policy map.
func (s *Store) All() map[string]Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Policy, len(s.policies))
	for k, v := range s.policies {
		out[k] = v
	}
	return out
}
