package agents

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// CoAP watches constrained-device traffic. Oversized messages and
// high-frequency request bursts are the main signals.
type CoAP struct {
	src Source
}

func NewCoAP(cfg Config) *CoAP {
	return &CoAP{src: NewSyntheticSource(cfg.Interval, syntheticCoAPEvent)}
}

func (c *CoAP) Tag() string { return "coap" }

func (c *CoAP) Collect(ctx context.Context) (uer.RawEvent, error) {
	return c.src.Next(ctx)
}

func (c *CoAP) Detect(raw uer.RawEvent) uer.Detection {
	score := 0.0

	if raw.Features["len_mean"] > 500 {
		score = 0.6
	}
	if raw.Features["iat_mean"] < 0.1 {
		score = 0.7
	}

	return uer.Detection{
		Score:    score,
		Conf:     0.80,
		Model:    "coap-v1",
		Entities: []string{"device_id"},
	}
}

func (c *CoAP) Close() error { return c.src.Close() }

func syntheticCoAPEvent() uer.RawEvent {
	return uer.RawEvent{
		TS:       time.Now().UTC(),
		SrcIP:    "192.168.1.20",
		DstIP:    "10.0.0.50",
		SrcPort:  uint16(50000 + rand.Intn(5000)),
		DstPort:  5683,
		DeviceID: fmt.Sprintf("coap-device-%d", 1+rand.Intn(50)),
		Features: map[string]float64{
			"len_mean": float64(20 + rand.Intn(180)),
			"iat_mean": 1.0 + rand.Float64()*29.0,
			"pkt":      float64(1 + rand.Intn(5)),
		},
		Labels: map[string]string{"code": []string{"GET", "POST"}[rand.Intn(2)]},
	}
}
