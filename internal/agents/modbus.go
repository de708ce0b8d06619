package agents

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/edgefuse/fal/internal/uer"
)

// Modbus watches industrial control traffic on TCP 502. Write
// operations, broadcast unit IDs, encapsulated-interface function
// codes and wide register reads all raise the score.
type Modbus struct {
	src Source
}

var (
	modbusWriteCodes      = map[float64]bool{5: true, 6: true, 15: true, 16: true, 22: true, 23: true, 24: true}
	modbusSuspiciousCodes = map[float64]bool{43: true, 90: true, 91: true, 92: true}
)

func NewModbus(cfg Config) *Modbus {
	return &Modbus{src: NewSyntheticSource(cfg.Interval, syntheticModbusEvent)}
}

func (m *Modbus) Tag() string { return "modbus" }

func (m *Modbus) Collect(ctx context.Context) (uer.RawEvent, error) {
	return m.src.Next(ctx)
}

func (m *Modbus) Detect(raw uer.RawEvent) uer.Detection {
	fc := raw.Features["function_code"]
	unitID := raw.Features["unit_id"]
	quantity := raw.Features["quantity"]

	score := 0.0
	var hints []string

	if modbusWriteCodes[fc] {
		score = 0.6
		hints = append(hints, "T0880")
	}
	if unitID == 0 && modbusWriteCodes[fc] {
		score = max(score, 0.9)
		hints = append(hints, "T0801")
	}
	if raw.Features["iat_mean"] < 0.01 {
		score = max(score, 0.7)
		hints = append(hints, "T0834")
	}
	if modbusSuspiciousCodes[fc] {
		score = max(score, 0.8)
		hints = append(hints, "T0868")
	}
	if (fc == 3 || fc == 4) && quantity > 125 {
		score = max(score, 0.6)
		hints = append(hints, "T0874")
	}

	return uer.Detection{
		Score:     score,
		Conf:      0.90,
		Model:     "modbus-v1",
		Entities:  []string{"unit_id", "device_id"},
		AttckHint: hints,
	}
}

func (m *Modbus) Close() error { return m.src.Close() }

func syntheticModbusEvent() uer.RawEvent {
	codes := []float64{1, 2, 3, 4, 5, 6, 15, 16}
	return uer.RawEvent{
		TS:       time.Now().UTC(),
		SrcIP:    "192.168.1.50",
		DstIP:    "192.168.1.100",
		SrcPort:  uint16(30000 + rand.Intn(30000)),
		DstPort:  502,
		DeviceID: fmt.Sprintf("plc-unit-%d", 1+rand.Intn(10)),
		Features: map[string]float64{
			"len_mean":       float64(12 + rand.Intn(244)),
			"iat_mean":       1.0 + rand.Float64()*99.0,
			"pkt":            float64(1 + rand.Intn(10)),
			"function_code":  codes[rand.Intn(len(codes))],
			"unit_id":        float64(1 + rand.Intn(247)),
			"transaction_id": float64(1 + rand.Intn(65535)),
			"start_address":  float64(rand.Intn(65536)),
			"quantity":       float64(1 + rand.Intn(2000)),
		},
	}
}
