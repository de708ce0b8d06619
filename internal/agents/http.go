package agents

import (
	"context"
	"math/rand"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// HTTP watches HTTP(S) traffic. Scoring favours server errors, large
// POST bodies and scan-like 404 patterns.
type HTTP struct {
	src Source
}

func NewHTTP(cfg Config) *HTTP {
	return &HTTP{src: NewSyntheticSource(cfg.Interval, syntheticHTTPEvent)}
}

func (h *HTTP) Tag() string { return "http" }

func (h *HTTP) Collect(ctx context.Context) (uer.RawEvent, error) {
	return h.src.Next(ctx)
}

func (h *HTTP) Detect(raw uer.RawEvent) uer.Detection {
	score := 0.0
	var hints []string

	if raw.Features["status_code"] == 500 {
		score = 0.6
	}
	if raw.Labels["method"] == "POST" && raw.Features["len_mean"] > 5000 {
		score = 0.75
		hints = append(hints, "T1041")
	}
	if raw.Features["status_code"] == 404 {
		score = 0.4
	}

	return uer.Detection{
		Score:     score,
		Conf:      0.90,
		Model:     "http-v1",
		Entities:  []string{"hostname"},
		AttckHint: hints,
	}
}

func (h *HTTP) Close() error { return h.src.Close() }

func syntheticHTTPEvent() uer.RawEvent {
	methods := []string{"GET", "POST", "PUT"}
	statuses := []float64{200, 200, 200, 404, 500}
	return uer.RawEvent{
		TS:      time.Now().UTC(),
		SrcIP:   "192.168.1.5",
		DstIP:   "203.0.113.10",
		SrcPort: uint16(30000 + rand.Intn(30000)),
		DstPort: 443,
		Features: map[string]float64{
			"len_mean":    float64(500 + rand.Intn(2500)),
			"iat_mean":    0.1 + rand.Float64()*4.9,
			"pkt":         float64(3 + rand.Intn(17)),
			"status_code": statuses[rand.Intn(len(statuses))],
		},
		Labels: map[string]string{"method": methods[rand.Intn(len(methods))]},
	}
}
