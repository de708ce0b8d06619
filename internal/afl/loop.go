package afl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
)

// Publisher is the stream-side surface the loop needs.
type Publisher interface {
	Publish(subject, msgID string, data []byte) error
}

// Loop periodically synthesizes a policy for every tracked agent and
// pushes it to the agent's feedback subject. PublishAll can also be
// called directly for an on-demand sweep.
type Loop struct {
	tracker  *Tracker
	pub      Publisher
	interval time.Duration
	load     func(tenant, agent string) float64
	log      *zap.Logger
	cron     *cron.Cron
}

func NewLoop(tracker *Tracker, pub Publisher, interval time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		tracker:  tracker,
		pub:      pub,
		interval: interval,
		load:     func(string, string) float64 { return DefaultLoad },
		log:      logger,
		cron:     cron.New(),
	}
}

// Start schedules the publish sweep and stops it when ctx is
// cancelled, waiting for a running sweep to finish.
func (l *Loop) Start(ctx context.Context) error {
	if _, err := l.cron.AddFunc("@every "+l.interval.String(), l.PublishAll); err != nil {
		return err
	}
	l.cron.Start()
	l.log.Info("policy loop started", zap.Duration("interval", l.interval))

	go func() {
		<-ctx.Done()
		<-l.cron.Stop().Done()
		l.log.Info("policy loop stopped")
	}()
	return nil
}

// PublishAll synthesizes and publishes the current policy for every
// tracked agent. Publish failures are logged and skipped; the next
// sweep retries with fresher numbers anyway.
func (l *Loop) PublishAll() {
	for _, pair := range l.tracker.Pairs() {
		pol := l.tracker.Synthesize(pair.Tenant, pair.Agent, l.load(pair.Tenant, pair.Agent))
		data, err := json.Marshal(Envelope{Agent: pol.Agent, Policy: pol})
		if err != nil {
			l.log.Error("policy encode failed", zap.String("agent", pol.Agent), zap.Error(err))
			continue
		}
		subject := natsclient.SubjectAFLFeedback(pair.Tenant, pol.Agent)
		if err := l.pub.Publish(subject, "", data); err != nil {
			l.log.Error("policy publish failed", zap.String("subject", subject), zap.Error(err))
			continue
		}
		l.log.Info("policy published",
			zap.String("subject", subject),
			zap.Float64("score_alert", pol.Thresholds.ScoreAlert),
			zap.Float64("trust_w", pol.Trust.W))
	}
}
