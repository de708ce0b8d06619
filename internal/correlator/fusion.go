// Package correlator consumes the per-tenant event stream, groups
// records into tumbling windows by event time, and fuses each window
// into a single posterior with trust-weighted Bayesian combination and
// Dempster-Shafer bounds.
package correlator

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/uer"
)

// conflictConfidence is the per-evidence confidence below which a
// record counts toward the high_conflict majority vote.
const conflictConfidence = 0.5

// maxTopFeatures caps the explanation size on a GCResult.
const maxTopFeatures = 5

// FeatureStat is one entry of a window's feature explanation.
type FeatureStat struct {
	Name     string  `json:"name"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// GCResult is the fused verdict for one closed window.
type GCResult struct {
	WindowKey    string        `json:"window_key"`
	Tenant       string        `json:"tenant"`
	Site         string        `json:"site,omitempty"`
	Posterior    float64       `json:"posterior"`
	Uncertainty  float64       `json:"uncertainty"`
	Confidence   float64       `json:"confidence"`
	AgentCount   int           `json:"agent_count"`
	Agents       []string      `json:"agents"`
	TopFeatures  []FeatureStat `json:"top_features"`
	Belief       float64       `json:"belief"`
	Plausibility float64       `json:"plausibility"`
	HighConflict bool          `json:"high_conflict"`
	AttckHint    []string      `json:"attck_hint"`
	Entities     []string      `json:"entities"`
	TS           string        `json:"ts"`
}

// Fuser turns a window of evidence into a GCResult.
type Fuser struct {
	trust *TrustStore
	log   *zap.Logger
	now   func() time.Time
}

// NewFuser creates a Fuser reading weights from the given trust store.
func NewFuser(trust *TrustStore, logger *zap.Logger) *Fuser {
	return &Fuser{trust: trust, log: logger, now: time.Now}
}

// Fuse combines a window's evidence. Records with an invalid score or
// confidence are skipped; if nothing valid remains, ok is false and no
// result is emitted.
func (f *Fuser) Fuse(key WindowKey, events []*uer.Record) (*GCResult, bool) {
	valid := events[:0:0]
	for _, ev := range events {
		if !uer.ScoreInRange(ev.Detector.Score) || !uer.ScoreInRange(ev.Detector.Conf) {
			f.log.Warn("evidence skipped",
				zap.String("uid", ev.UID),
				zap.Float64("score", ev.Detector.Score),
				zap.Float64("conf", ev.Detector.Conf),
			)
			continue
		}
		valid = append(valid, ev)
	}
	if len(valid) == 0 {
		return nil, false
	}

	var (
		weightedSum float64
		totalWeight float64
		confSum     float64
		belief      float64
		plaus       float64
		conflicts   int
	)
	agents := make([]string, 0, len(valid))
	seenAgents := make(map[string]bool)

	for i, ev := range valid {
		w := f.trust.Weight(key.Tenant, ev.Proto.L7)
		s := ev.Detector.Score

		weightedSum += s * w
		totalWeight += w
		confSum += ev.Detector.Conf

		if i == 0 {
			belief = s * w
			plaus = s
		} else {
			belief = min(belief, s*w)
			plaus = max(plaus, s)
		}
		if ev.Detector.Conf < conflictConfidence {
			conflicts++
		}

		if !seenAgents[ev.Proto.L7] {
			seenAgents[ev.Proto.L7] = true
			agents = append(agents, ev.Proto.L7)
		}
	}
	sort.Strings(agents)

	posterior := 0.0
	if totalWeight > 0 {
		posterior = weightedSum / totalWeight
	}
	avgConf := confSum / float64(len(valid))

	return &GCResult{
		WindowKey:    fmt.Sprintf("%s:%s", key.Tenant, key.Start.UTC().Format(time.RFC3339)),
		Tenant:       key.Tenant,
		Site:         firstSite(valid),
		Posterior:    posterior,
		Uncertainty:  1 - avgConf,
		Confidence:   avgConf,
		AgentCount:   len(valid),
		Agents:       agents,
		TopFeatures:  topFeatures(valid),
		Belief:       belief,
		Plausibility: plaus,
		HighConflict: conflicts*2 > len(valid),
		AttckHint:    collect(valid, func(ev *uer.Record) []string { return ev.AttckHint }),
		Entities:     collect(valid, func(ev *uer.Record) []string { return ev.Entities }),
		TS:           f.now().UTC().Format(time.RFC3339Nano),
	}, true
}

// topFeatures explains the window: every stat key reported by at least
// two records, ranked by variance across the window.
func topFeatures(events []*uer.Record) []FeatureStat {
	values := make(map[string][]float64)
	for _, ev := range events {
		for k, v := range ev.Stats {
			values[k] = append(values[k], v)
		}
	}

	stats := make([]FeatureStat, 0, len(values))
	for name, vs := range values {
		if len(vs) < 2 {
			continue
		}
		var mean float64
		for _, v := range vs {
			mean += v
		}
		mean /= float64(len(vs))

		var variance float64
		for _, v := range vs {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(vs))

		stats = append(stats, FeatureStat{Name: name, Mean: mean, Variance: variance})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Variance != stats[j].Variance {
			return stats[i].Variance > stats[j].Variance
		}
		return stats[i].Name < stats[j].Name
	})
	if len(stats) > maxTopFeatures {
		stats = stats[:maxTopFeatures]
	}
	return stats
}

func firstSite(events []*uer.Record) string {
	for _, ev := range events {
		if ev.Site != "" {
			return ev.Site
		}
	}
	return ""
}

// collect unions a string-list field across the window, preserving
// first-seen order.
func collect(events []*uer.Record, field func(*uer.Record) []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, ev := range events {
		for _, v := range field(ev) {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
