// Package supervisor owns the edge agent lifecycle: one worker per
// enabled protocol agent, a periodic buffer flush worker, and the
// shutdown sequence that stops them all before the buffer closes.
package supervisor

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/agents"
	"github.com/edgefuse/fal/internal/feedback"
	"github.com/edgefuse/fal/internal/uer"
	"github.com/edgefuse/fal/internal/uplink"
)

// Sender is the uplink surface the workers use. uplink.Connector
// satisfies it.
type Sender interface {
	Send(ctx context.Context, rec *uer.Record) (uplink.Outcome, error)
	Flush(ctx context.Context) (uplink.FlushStats, error)
}

// Deps wires the supervisor's collaborators.
type Deps struct {
	Agents     []agents.ProtocolAgent
	Normalizer *uer.Normalizer
	Connector  Sender
	Policies   *feedback.Store
	Buffer     io.Closer
	Log        *zap.Logger
}

// Option tunes a Supervisor.
type Option func(*Supervisor)

func WithFlushInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.flushEvery = d }
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.stopTimeout = d }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor runs the edge pipeline. Each agent worker loops
// collect, detect, threshold, normalize, send; the flush worker drains
// the durable buffer on a timer.
type Supervisor struct {
	agents     []agents.ProtocolAgent
	normalizer *uer.Normalizer
	connector  Sender
	policies   *feedback.Store
	buf        io.Closer
	log        *zap.Logger

	flushEvery  time.Duration
	stopTimeout time.Duration
	metrics     *Metrics
	sample      func() float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(deps Deps, opts ...Option) *Supervisor {
	s := &Supervisor{
		agents:      deps.Agents,
		normalizer:  deps.Normalizer,
		connector:   deps.Connector,
		policies:    deps.Policies,
		buf:         deps.Buffer,
		log:         deps.Log,
		flushEvery:  60 * time.Second,
		stopTimeout: 5 * time.Second,
		sample:      rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches all workers and returns immediately.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, a := range s.agents {
		s.wg.Add(1)
		go s.runAgent(ctx, a)
	}
	s.wg.Add(1)
	go s.runFlush(ctx)

	s.log.Info("supervisor started", zap.Int("agents", len(s.agents)))
}

// Stop cancels every worker and waits up to the stop timeout for them
// to join, then closes the agents and finally the buffer. The buffer
// must close last; workers may be writing to it until they exit.
func (s *Supervisor) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.log.Warn("workers did not stop within deadline",
			zap.Duration("timeout", s.stopTimeout))
	}

	for _, a := range s.agents {
		if err := a.Close(); err != nil {
			s.log.Warn("agent close failed",
				zap.String("agent", a.Tag()),
				zap.Error(err))
		}
	}

	var err error
	if s.buf != nil {
		err = s.buf.Close()
	}
	s.log.Info("supervisor stopped")
	return err
}

func (s *Supervisor) runAgent(ctx context.Context, a agents.ProtocolAgent) {
	defer s.wg.Done()
	tag := a.Tag()
	log := s.log.With(zap.String("agent", tag))
	log.Info("agent worker started")

	for {
		raw, err := a.Collect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("agent worker stopped")
				return
			}
			log.Error("collect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				log.Info("agent worker stopped")
				return
			case <-time.After(time.Second):
			}
			continue
		}
		s.countEvent(tag)

		det := a.Detect(raw)
		threshold := s.policies.Threshold(tag)
		if det.Score < threshold {
			continue
		}

		if rate := s.policies.SamplingRate(tag); rate < 1 && s.sample() >= rate {
			s.countSampledOut(tag)
			continue
		}

		rec, err := s.normalizer.Normalize(tag, raw, det)
		if err != nil {
			// Bad detector output never reaches the buffer.
			s.countNormalizeError(tag)
			log.Warn("event dropped", zap.Error(err))
			continue
		}
		s.countDetection(tag)

		if _, err := s.connector.Send(ctx, rec); err != nil && ctx.Err() == nil {
			log.Error("record not delivered",
				zap.String("uid", rec.UID),
				zap.Error(err))
		}
	}
}

func (s *Supervisor) runFlush(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.connector.Flush(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("buffer flush failed", zap.Error(err))
			}
		}
	}
}
