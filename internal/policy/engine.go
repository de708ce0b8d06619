// Package policy maps fused window verdicts to response decisions and
// builds the alerts delivered to tenants.
package policy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/correlator"
)

const (
	ActionMonitor = "monitor"
	ActionAlert   = "alert"
	ActionIsolate = "isolate"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Decision is the response verdict for one fused window.
type Decision struct {
	Action      string   `json:"action"`
	Severity    string   `json:"severity"`
	Posterior   float64  `json:"posterior"`
	Uncertainty float64  `json:"uncertainty"`
	Reason      string   `json:"reason"`
	Agents      []string `json:"agents"`
	TS          string   `json:"ts"`
}

// Engine turns posteriors into actions. With two-step validation on,
// an action-threshold hit emits an alert for human confirmation
// instead of isolating the device outright.
type Engine struct {
	alertThreshold  float64
	actionThreshold float64
	twoStep         bool
	log             *zap.Logger

	now func() time.Time

	mu         sync.Mutex
	lastMillis int64
}

func NewEngine(alertThreshold, actionThreshold float64, twoStep bool, logger *zap.Logger) *Engine {
	return &Engine{
		alertThreshold:  alertThreshold,
		actionThreshold: actionThreshold,
		twoStep:         twoStep,
		log:             logger,
		now:             time.Now,
	}
}

// Evaluate maps a fused verdict to an action and severity.
func (e *Engine) Evaluate(res *correlator.GCResult) Decision {
	p := res.Posterior

	var action, severity, reason string
	switch {
	case p >= e.actionThreshold:
		action = ActionIsolate
		if e.twoStep {
			action = ActionAlert
		}
		severity = SeverityHigh
		if p > 0.9 {
			severity = SeverityCritical
		}
		reason = fmt.Sprintf("High posterior probability: %.2f", p)
	case p >= e.alertThreshold:
		action = ActionAlert
		severity = SeverityLow
		if p > 0.7 {
			severity = SeverityMedium
		}
		reason = fmt.Sprintf("Suspicious activity detected: %.2f", p)
	default:
		action = ActionMonitor
		severity = SeverityLow
		reason = fmt.Sprintf("Below alert threshold: %.2f", p)
	}

	// An uncertain window never escalates past medium, whichever
	// band the posterior landed in.
	if res.Uncertainty > 0.5 && p > e.alertThreshold {
		severity = SeverityMedium
	}

	if action != ActionMonitor {
		e.log.Info("response decision",
			zap.String("window_key", res.WindowKey),
			zap.String("action", action),
			zap.String("severity", severity),
			zap.Float64("posterior", p))
	}

	return Decision{
		Action:      action,
		Severity:    severity,
		Posterior:   p,
		Uncertainty: res.Uncertainty,
		Reason:      reason,
		Agents:      res.Agents,
		TS:          e.now().UTC().Format(time.RFC3339Nano),
	}
}

// monotonicMillis returns wall-clock milliseconds, bumped when two
// calls land in the same millisecond so alert ids never collide.
func (e *Engine) monotonicMillis() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := e.now().UnixMilli()
	if ms <= e.lastMillis {
		ms = e.lastMillis + 1
	}
	e.lastMillis = ms
	return ms
}
