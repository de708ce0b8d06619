// Package agents holds the edge protocol agents. Each agent observes
// one L7 protocol, derives a numeric feature vector per event and
// scores it with a small rule model. Packet parsing itself lives
// outside this repo; agents consume an event source and fix only the
// output contract.
package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/uer"
)

// ProtocolAgent is one protocol observer. Collect blocks until an
// event arrives or ctx is cancelled; Detect is pure and must be safe to
// call from the supervisor's worker goroutine.
type ProtocolAgent interface {
	Tag() string
	Collect(ctx context.Context) (uer.RawEvent, error)
	Detect(raw uer.RawEvent) uer.Detection
	Close() error
}

// Source feeds raw events to an agent.
type Source interface {
	Next(ctx context.Context) (uer.RawEvent, error)
	Close() error
}

// Config is the per-agent slice of the edge configuration.
type Config struct {
	Enabled  bool
	Broker   string
	Topics   []string
	Interval time.Duration
}

// FromConfig builds the enabled agents for the configured tags. Tags
// without an implementation are rejected so a typo in the config fails
// fast instead of silently monitoring nothing.
func FromConfig(cfgs map[string]Config, log *zap.Logger) ([]ProtocolAgent, error) {
	var out []ProtocolAgent
	for tag, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		var (
			agent ProtocolAgent
			err   error
		)
		switch tag {
		case "mqtt":
			agent, err = NewMQTT(cfg, log.Named("mqtt"))
		case "http":
			agent = NewHTTP(cfg)
		case "coap":
			agent = NewCoAP(cfg)
		case "modbus":
			agent = NewModbus(cfg)
		case "zigbee":
			agent = NewZigbee(cfg)
		case "quic":
			agent = NewQUIC(cfg)
		default:
			err = fmt.Errorf("agents: unknown protocol tag %q", tag)
		}
		if err != nil {
			for _, a := range out {
				a.Close()
			}
			return nil, err
		}
		out = append(out, agent)
	}
	return out, nil
}
