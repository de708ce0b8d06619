package correlator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
	"github.com/edgefuse/fal/internal/uer"
)

const (
	ingestSubjectFilter  = "uer.ingest.>"
	outcomeSubjectFilter = "afl.outcome.>"

	ingestDurable  = "fal-correlator-ingest"
	outcomeDurable = "fal-correlator-trust"

	fetchBatch   = 64
	defaultSweep = time.Second
)

// ResultHandler receives every fused window verdict, in sweep order.
type ResultHandler func(ctx context.Context, res *GCResult)

// outcomeEvent mirrors the payload published on afl.outcome.{tenant}.
type outcomeEvent struct {
	Agent    string   `json:"agent"`
	Label    string   `json:"label"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Consumer pulls annotated records into tumbling windows and fuses each
// window once it closes. It also consumes analyst outcomes to keep the
// trust store current.
type Consumer struct {
	nats    *natsclient.Client
	windows *Windows
	fuser   *Fuser
	trust   *TrustStore
	handle  ResultHandler
	logger  *zap.Logger

	sweepEvery time.Duration
	now        func() time.Time
}

func NewConsumer(n *natsclient.Client, windows *Windows, fuser *Fuser, trust *TrustStore, handle ResultHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		nats:       n,
		windows:    windows,
		fuser:      fuser,
		trust:      trust,
		handle:     handle,
		logger:     logger,
		sweepEvery: defaultSweep,
		now:        time.Now,
	}
}

// Start binds the durable consumers and launches the fetch and sweep loops.
// The loops stop when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	ingestSub, err := c.nats.JS.PullSubscribe(
		ingestSubjectFilter,
		ingestDurable,
		nats.BindStream(natsclient.StreamUERIngest),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}

	outcomeSub, err := c.nats.JS.PullSubscribe(
		outcomeSubjectFilter,
		outcomeDurable,
		nats.BindStream(natsclient.StreamAFLOutcome),
		nats.AckExplicit(),
	)
	if err != nil {
		return err
	}

	c.logger.Info("correlator consumer started",
		zap.String("ingest_filter", ingestSubjectFilter),
		zap.String("outcome_filter", outcomeSubjectFilter),
		zap.Duration("sweep_every", c.sweepEvery))

	go c.fetchLoop(ctx, ingestSub, c.processIngest)
	go c.fetchLoop(ctx, outcomeSub, c.processOutcome)
	go c.sweepLoop(ctx)

	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context, sub *nats.Subscription, process func(*nats.Msg)) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("fetch loop stopping", zap.String("subject", sub.Subject))
			return
		default:
			msgs, err := sub.Fetch(fetchBatch, nats.Context(ctx))
			if err != nil {
				// Timeouts and cancellations land here; the next
				// iteration decides whether to exit.
				continue
			}
			for _, msg := range msgs {
				process(msg)
			}
		}
	}
}

func (c *Consumer) processIngest(msg *nats.Msg) {
	var rec uer.Record
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		c.logger.Warn("dropping malformed record",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		_ = msg.Term()
		return
	}
	if rec.Tenant == "" {
		rec.Tenant = tenantFromSubject(msg.Subject)
	}
	if err := c.windows.Add(&rec); err != nil {
		c.logger.Warn("dropping unwindowable record",
			zap.String("uid", rec.UID),
			zap.Error(err))
		_ = msg.Term()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) processOutcome(msg *nats.Msg) {
	var ev outcomeEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.logger.Warn("dropping malformed outcome",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		_ = msg.Term()
		return
	}
	accuracy, ok := outcomeAccuracy(ev)
	if !ok {
		c.logger.Warn("dropping outcome with unknown label",
			zap.String("label", ev.Label))
		_ = msg.Term()
		return
	}
	tenant := tenantFromSubject(msg.Subject)
	weight := c.trust.Observe(tenant, ev.Agent, accuracy)
	c.logger.Info("trust updated",
		zap.String("tenant", tenant),
		zap.String("agent", ev.Agent),
		zap.Float64("accuracy", accuracy),
		zap.Float64("weight", weight))
	_ = msg.Ack()
}

// outcomeAccuracy resolves the accuracy signal of an outcome. An explicit
// accuracy wins; otherwise true labels score 1.0 and false labels 0.0.
func outcomeAccuracy(ev outcomeEvent) (float64, bool) {
	if ev.Accuracy != nil {
		return *ev.Accuracy, true
	}
	switch ev.Label {
	case "tp", "tn":
		return 1.0, true
	case "fp", "fn":
		return 0.0, true
	}
	return 0, false
}

func (c *Consumer) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sweep loop stopping", zap.Int("open_windows", c.windows.Open()))
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Consumer) sweep(ctx context.Context) {
	for key, events := range c.windows.Due(c.now()) {
		res, ok := c.fuser.Fuse(key, events)
		if !ok {
			continue
		}
		c.handle(ctx, res)
	}
}

func tenantFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
