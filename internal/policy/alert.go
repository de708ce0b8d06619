package policy

import (
	"fmt"
	"time"

	"github.com/edgefuse/fal/internal/correlator"
)

// Alert is the tenant-facing record published for every decision that
// asks for action. The explanation carries the window's top features
// so an analyst can see what drove the posterior.
type Alert struct {
	AlertID     string                   `json:"alert_id"`
	TS          string                   `json:"ts"`
	Tenant      string                   `json:"tenant"`
	Site        string                   `json:"site,omitempty"`
	Severity    string                   `json:"severity"`
	Action      string                   `json:"action"`
	Posterior   float64                  `json:"posterior"`
	Agents      []string                 `json:"agents"`
	AttckHint   []string                 `json:"attck_hint"`
	Entities    []string                 `json:"entities"`
	Explanation []correlator.FeatureStat `json:"gc_explanation"`
}

// NewAlert builds the alert for a decision on a fused window.
func (e *Engine) NewAlert(dec Decision, res *correlator.GCResult) Alert {
	return Alert{
		AlertID:     fmt.Sprintf("alert-%d", e.monotonicMillis()),
		TS:          e.now().UTC().Format(time.RFC3339Nano),
		Tenant:      res.Tenant,
		Site:        res.Site,
		Severity:    dec.Severity,
		Action:      dec.Action,
		Posterior:   dec.Posterior,
		Agents:      dec.Agents,
		AttckHint:   res.AttckHint,
		Entities:    res.Entities,
		Explanation: res.TopFeatures,
	}
}
