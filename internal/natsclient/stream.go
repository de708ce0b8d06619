package natsclient

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamUERIngest captures validated event records per tenant.
	StreamUERIngest = "UER_INGEST"
	// StreamAFLFeedback carries synthesized policies back to the edges.
	StreamAFLFeedback = "AFL_FEEDBACK"
	// StreamAFLOutcome carries labeled outcomes from the admin surface.
	StreamAFLOutcome = "AFL_OUTCOME"
	// StreamAlerts carries finished alerts to downstream sinks.
	StreamAlerts = "FAL_ALERTS"
)

// dedupWindow matches the ingress idempotency horizon: a uid republished
// inside it is suppressed by the broker as well.
const dedupWindow = 24 * time.Hour

func SubjectUERIngest(tenant string) string { return "uer.ingest." + tenant }

func SubjectAFLFeedback(tenant, agent string) string {
	return "afl.feedback." + tenant + "." + agent
}

func SubjectAFLOutcome(tenant string) string { return "afl.outcome." + tenant }

func SubjectAlerts(tenant string) string { return "alerts." + tenant }

// ProvisionStreams idempotently creates every stream the platform
// needs. Services call this on startup; the first one to reach the
// broker does the work.
func (c *Client) ProvisionStreams() error {
	streams := []*nats.StreamConfig{
		{
			Name:       StreamUERIngest,
			Subjects:   []string{"uer.ingest.>"},
			Storage:    nats.FileStorage,
			Retention:  nats.LimitsPolicy,
			Duplicates: dedupWindow,
		},
		{
			Name:      StreamAFLFeedback,
			Subjects:  []string{"afl.feedback.>"},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		},
		{
			Name:      StreamAFLOutcome,
			Subjects:  []string{"afl.outcome.>"},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		},
		{
			Name:      StreamAlerts,
			Subjects:  []string{"alerts.>"},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		},
	}
	for _, cfg := range streams {
		if err := c.provisionStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) provisionStream(cfg *nats.StreamConfig) error {
	_, err := c.JS.StreamInfo(cfg.Name)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", cfg.Name))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	c.Log.Info("NATS stream provisioned", zap.String("stream", cfg.Name))
	return nil
}
