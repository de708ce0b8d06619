package agents

import (
	"context"
	"math/rand"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

var quicKnownVersions = map[string]bool{
	"draft-29": true,
	"draft-30": true,
	"HTTP/3":   true,
}

// QUIC watches HTTP/3 transport behavior. Version downgrades, stream
// abuse, and scan-shaped handshakes are the main signals.
type QUIC struct {
	src Source
}

func NewQUIC(cfg Config) *QUIC {
	return &QUIC{src: NewSyntheticSource(cfg.Interval, syntheticQUICEvent)}
}

func (q *QUIC) Tag() string { return "quic" }

func (q *QUIC) Collect(ctx context.Context) (uer.RawEvent, error) {
	return q.src.Next(ctx)
}

func (q *QUIC) Detect(raw uer.RawEvent) uer.Detection {
	score := 0.0
	var hints []string

	if !quicKnownVersions[raw.Labels["version"]] {
		score = 0.7
		hints = append(hints, "T1562.004")
	}
	if raw.Features["pkt"] > 50 && raw.Features["stream_id"] > 100 {
		score = max(score, 0.8)
		hints = append(hints, "T1498")
	}
	if raw.Labels["packet_type"] == "Initial" && raw.Features["pkt"] < 2 {
		score = max(score, 0.6)
		hints = append(hints, "T1046")
	}
	if raw.Features["iat_mean"] < 0.001 {
		score = max(score, 0.75)
		hints = append(hints, "T1499")
	}

	return uer.Detection{
		Score:     score,
		Conf:      0.85,
		Model:     "quic-v1",
		Entities:  []string{"connection_id", "stream_id"},
		AttckHint: hints,
	}
}

func (q *QUIC) Close() error { return q.src.Close() }

func syntheticQUICEvent() uer.RawEvent {
	versions := []string{"0x00000001", "draft-29", "draft-30"}
	packetTypes := []string{"Initial", "Handshake", "Protected"}
	return uer.RawEvent{
		TS:      time.Now().UTC(),
		SrcIP:   "192.168.1.5",
		DstIP:   "2001:db8::1",
		SrcPort: uint16(30000 + rand.Intn(30000)),
		DstPort: 443,
		Features: map[string]float64{
			"len_mean":          float64(100 + rand.Intn(1100)),
			"iat_mean":          0.01 + rand.Float64()*0.49,
			"pkt":               float64(3 + rand.Intn(27)),
			"connection_id_len": []float64{4, 8}[rand.Intn(2)],
			"stream_id":         float64(rand.Intn(101)),
		},
		Labels: map[string]string{
			"version":     versions[rand.Intn(len(versions))],
			"packet_type": packetTypes[rand.Intn(len(packetTypes))],
		},
	}
}
