// Package afl tracks per-agent detection performance from labeled
// outcomes and synthesizes the tuning policies pushed back to edges.
package afl

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is the policy wire schema tag.
const SchemaVersion = "afl-v1.1"

const (
	baseThreshold    = 0.7
	trustDecay       = 0.9
	defaultPrecision = 0.5
	defaultRecall    = 0.5

	// DefaultLoad stands in until a real load signal per agent exists.
	DefaultLoad = 0.5

	accuracyWindow  = 100
	recalMinSamples = 10
)

var ErrUnknownLabel = errors.New("unknown outcome label")

// Policy is the per-agent tuning directive pushed to edges.
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

// Envelope is the published wrapper around one policy.
type Envelope struct {
	Agent  string `json:"agent"`
	Policy Policy `json:"policy"`
}

// Pair identifies one tracked agent within a tenant.
type Pair struct {
	Tenant string
	Agent  string
}

type counters struct {
	tp, fp, tn, fn int
	accuracies     []float64
	threshold      float64
}

func (c *counters) precision() float64 {
	if c.tp+c.fp == 0 {
		return defaultPrecision
	}
	return float64(c.tp) / float64(c.tp+c.fp)
}

func (c *counters) recall() float64 {
	if c.tp+c.fn == 0 {
		return defaultRecall
	}
	return float64(c.tp) / float64(c.tp+c.fn)
}

// Tracker accumulates labeled outcomes per tenant and agent tag. It
// keeps raw confusion counters for policy synthesis and a bounded
// accuracy window for threshold recalibration.
type Tracker struct {
	mu        sync.Mutex
	recalRate float64
	agents    map[Pair]*counters
	log       *zap.Logger
	now       func() time.Time
}

func NewTracker(recalRate float64, logger *zap.Logger) *Tracker {
	return &Tracker{
		recalRate: recalRate,
		agents:    make(map[Pair]*counters),
		log:       logger,
		now:       time.Now,
	}
}

func (t *Tracker) lookup(tenant, agent string) (Pair, *counters) {
	key := Pair{Tenant: tenant, Agent: strings.ToLower(agent)}
	return key, t.agents[key]
}

// Observe folds one labeled outcome into the agent's counters. The
// accuracy defaults from the label (1.0 for tp/tn, 0.0 for fp/fn)
// unless the outcome carried an explicit value. A rejected label
// leaves the tracker untouched.
func (t *Tracker) Observe(tenant, agent, label string, accuracy *float64) error {
	var acc float64
	switch label {
	case "tp", "tn":
		acc = 1.0
	case "fp", "fn":
		acc = 0.0
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if accuracy != nil {
		acc = *accuracy
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key, c := t.lookup(tenant, agent)
	if c == nil {
		c = &counters{threshold: baseThreshold}
		t.agents[key] = c
	}
	switch label {
	case "tp":
		c.tp++
	case "tn":
		c.tn++
	case "fp":
		c.fp++
	case "fn":
		c.fn++
	}

	c.accuracies = append(c.accuracies, acc)
	if len(c.accuracies) > accuracyWindow {
		c.accuracies = c.accuracies[1:]
	}
	t.recalibrate(key, c)
	return nil
}

// recalibrate nudges the agent's local threshold once enough accuracy
// observations exist. Poor accuracy raises the bar, excellent accuracy
// lowers it, the mid band leaves it alone.
func (t *Tracker) recalibrate(key Pair, c *counters) {
	if len(c.accuracies) < recalMinSamples {
		return
	}
	var mean float64
	for _, a := range c.accuracies {
		mean += a
	}
	mean /= float64(len(c.accuracies))

	old := c.threshold
	switch {
	case mean < 0.6:
		c.threshold = clamp(c.threshold+t.recalRate, 0.3, 0.95)
	case mean > 0.9:
		c.threshold = clamp(c.threshold-t.recalRate, 0.3, 0.95)
	default:
		return
	}
	if c.threshold != old {
		t.log.Info("threshold recalibrated",
			zap.String("tenant", key.Tenant),
			zap.String("agent", key.Agent),
			zap.Float64("mean_accuracy", mean),
			zap.Float64("old", old),
			zap.Float64("new", c.threshold))
	}
}

// Precision returns tp/(tp+fp), or 0.5 before any alert outcome.
func (t *Tracker) Precision(tenant, agent string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, c := t.lookup(tenant, agent); c != nil {
		return c.precision()
	}
	return defaultPrecision
}

// Recall returns tp/(tp+fn), or 0.5 before any attack outcome.
func (t *Tracker) Recall(tenant, agent string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, c := t.lookup(tenant, agent); c != nil {
		return c.recall()
	}
	return defaultRecall
}

// Threshold returns the recalibrated local threshold for an agent.
func (t *Tracker) Threshold(tenant, agent string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, c := t.lookup(tenant, agent); c != nil {
		return c.threshold
	}
	return baseThreshold
}

// Pairs lists every tracked tenant and agent, ordered for stable
// publish sweeps.
func (t *Tracker) Pairs() []Pair {
	t.mu.Lock()
	defer t.mu.Unlock()
	pairs := make([]Pair, 0, len(t.agents))
	for key := range t.agents {
		pairs = append(pairs, key)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Tenant != pairs[j].Tenant {
			return pairs[i].Tenant < pairs[j].Tenant
		}
		return pairs[i].Agent < pairs[j].Agent
	})
	return pairs
}

// Synthesize derives the current policy for an agent. Better precision
// lowers the alert threshold, better recall raises it, and the trust
// weight follows precision directly.
func (t *Tracker) Synthesize(tenant, agent string, load float64) Policy {
	t.mu.Lock()
	precision, recall := defaultPrecision, defaultRecall
	if _, c := t.lookup(tenant, agent); c != nil {
		precision, recall = c.precision(), c.recall()
	}
	ts := t.now().UTC().Format(time.RFC3339Nano)
	t.mu.Unlock()

	threshold := clamp(baseThreshold-(precision-0.5)*0.3+(recall-0.5)*0.2, 0.5, 0.9)
	sampling := clamp(1.0-(load-0.5)*0.3, 0.5, 1.0)
	trustW := 0.5 + precision*0.4

	return Policy{
		Agent:      strings.ToLower(agent),
		Thresholds: Thresholds{ScoreAlert: round2(threshold)},
		Sampling:   Sampling{Rate: round2(sampling)},
		Trust:      Trust{W: round2(trustW), Decay: round2(trustDecay)},
		TS:         ts,
		Schema:     SchemaVersion,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
