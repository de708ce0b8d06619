package agents

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// Clusters an ordinary device should never touch after commissioning:
// OTA upgrade, IAS zone, and binding.
var zigbeeRestrictedClusters = map[float64]bool{
	0x0019: true,
	0x0500: true,
	0x0005: true,
}

// Zigbee watches mesh traffic reported by the coordinator. Cluster
// misuse and flooding are the main signals.
type Zigbee struct {
	src Source
}

func NewZigbee(cfg Config) *Zigbee {
	return &Zigbee{src: NewSyntheticSource(cfg.Interval, syntheticZigbeeEvent)}
}

func (z *Zigbee) Tag() string { return "zigbee" }

func (z *Zigbee) Collect(ctx context.Context) (uer.RawEvent, error) {
	return z.src.Next(ctx)
}

func (z *Zigbee) Detect(raw uer.RawEvent) uer.Detection {
	score := 0.0
	var hints []string

	if zigbeeRestrictedClusters[raw.Features["cluster_id"]] {
		score = 0.8
		hints = append(hints, "T1133")
	}
	if raw.Features["iat_mean"] < 0.1 {
		score = max(score, 0.7)
		hints = append(hints, "T1499")
	}
	if raw.Features["pkt"] > 20 {
		score = max(score, 0.6)
		hints = append(hints, "T1082")
	}

	return uer.Detection{
		Score:     score,
		Conf:      0.80,
		Model:     "zigbee-v1",
		Entities:  []string{"device_id", "cluster_id"},
		AttckHint: hints,
	}
}

func (z *Zigbee) Close() error { return z.src.Close() }

func syntheticZigbeeEvent() uer.RawEvent {
	clusters := []float64{0x0006, 0x0008, 0x0300}
	return uer.RawEvent{
		TS:       time.Now().UTC(),
		SrcIP:    "192.168.1.100",
		DstIP:    "ff02::1",
		DeviceID: fmt.Sprintf("zigbee-node-%d", 1+rand.Intn(50)),
		Features: map[string]float64{
			"len_mean":   float64(50 + rand.Intn(150)),
			"iat_mean":   1.0 + rand.Float64()*59.0,
			"pkt":        float64(1 + rand.Intn(5)),
			"cluster_id": clusters[rand.Intn(len(clusters))],
			"endpoint":   float64(1 + rand.Intn(5)),
		},
		Labels: map[string]string{
			"network_id": fmt.Sprintf("0x%04x", 0x1000+rand.Intn(0xF000)),
		},
	}
}
