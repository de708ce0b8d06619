package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
)

const (
	fetchBatch   = 10
	fetchTimeout = 5 * time.Second
)

// Envelope is the published wrapper around one policy.
type Envelope struct {
	Agent  string `json:"agent"`
	Policy Policy `json:"policy"`
}

// Subscriber pulls policies pushed for this tenant and applies them to
// the store. The local HTTP surface applies policies too; both paths
// converge on Store.Apply, so redelivery and duplication are harmless.
type Subscriber struct {
	nc      *natsclient.Client
	store   *Store
	tenant  string
	durable string
	log     *zap.Logger
}

// NewSubscriber builds a subscriber for one edge host. agentID keys the
// durable consumer so every edge receives the full policy feed.
func NewSubscriber(nc *natsclient.Client, store *Store, tenant, agentID string, log *zap.Logger) *Subscriber {
	return &Subscriber{
		nc:      nc,
		store:   store,
		tenant:  tenant,
		durable: "fal-edge-" + agentID,
		log:     log,
	}
}

// Start subscribes to this tenant's policy subjects as a durable pull
// consumer and processes messages until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	subject := natsclient.SubjectAFLFeedback(s.tenant, "*")
	sub, err := s.nc.JS.PullSubscribe(
		subject,
		s.durable,
		nats.BindStream(natsclient.StreamAFLFeedback),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return err
	}

	s.log.Info("policy subscriber started",
		zap.String("subject", subject),
		zap.String("durable", s.durable),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.log.Info("policy subscriber stopping")
				return
			default:
			}

			msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchTimeout))
			if err != nil {
				// Timeout is expected when there are no messages.
				if err == nats.ErrTimeout {
					continue
				}
				s.log.Error("fetch error", zap.Error(err))
				continue
			}

			for _, msg := range msgs {
				s.processMessage(msg)
			}
		}
	}()

	return nil
}

func (s *Subscriber) processMessage(msg *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.log.Warn("malformed policy payload (terminating)", zap.Error(err))
		msg.Term()
		return
	}
	policy := env.Policy
	if policy.Agent == "" {
		policy.Agent = env.Agent
	}

	if err := s.store.Apply(policy); err != nil {
		if errors.Is(err, ErrInvalidPolicy) {
			s.log.Warn("invalid policy (terminating)",
				zap.String("agent", policy.Agent),
				zap.Error(err))
			msg.Term()
			return
		}
		// Persistence failed; leave the message for redelivery.
		s.log.Error("policy apply failed", zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}
