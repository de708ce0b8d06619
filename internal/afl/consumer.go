package afl

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
)

const (
	outcomeSubjectFilter = "afl.outcome.>"
	outcomeDurable       = "fal-afl"
	fetchBatch           = 64
)

// outcomeEvent mirrors the payload published on afl.outcome.{tenant}.
type outcomeEvent struct {
	Agent    string   `json:"agent"`
	Label    string   `json:"label"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Consumer feeds labeled outcomes into the tracker.
type Consumer struct {
	nats    *natsclient.Client
	tracker *Tracker
	log     *zap.Logger
}

func NewConsumer(n *natsclient.Client, tracker *Tracker, logger *zap.Logger) *Consumer {
	return &Consumer{nats: n, tracker: tracker, log: logger}
}

// Start binds the durable outcome consumer and launches the fetch
// loop. The loop stops when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.nats.JS.PullSubscribe(
		outcomeSubjectFilter,
		outcomeDurable,
		nats.BindStream(natsclient.StreamAFLOutcome),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}
	c.log.Info("outcome consumer started", zap.String("filter", outcomeSubjectFilter))

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.log.Info("outcome consumer stopping")
				return
			default:
				msgs, err := sub.Fetch(fetchBatch, nats.Context(ctx))
				if err != nil {
					continue
				}
				for _, msg := range msgs {
					c.process(msg)
				}
			}
		}
	}()
	return nil
}

func (c *Consumer) process(msg *nats.Msg) {
	var ev outcomeEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.log.Warn("dropping malformed outcome",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		_ = msg.Term()
		return
	}
	tenant := outcomeTenant(msg.Subject)
	if err := c.tracker.Observe(tenant, ev.Agent, ev.Label, ev.Accuracy); err != nil {
		if errors.Is(err, ErrUnknownLabel) {
			c.log.Warn("dropping outcome",
				zap.String("tenant", tenant),
				zap.String("agent", ev.Agent),
				zap.Error(err))
			_ = msg.Term()
			return
		}
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func outcomeTenant(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
