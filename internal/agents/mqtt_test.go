package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestPahoBuildEvent(t *testing.T) {
	s := &PahoSource{
		brokerHost: "10.0.0.100",
		brokerPort: 1883,
		log:        zaptest.NewLogger(t),
		lastSeen:   make(map[string]time.Time),
	}

	t0 := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	first := s.buildEvent("sensors/temp", []byte("21.5"), 1, false, t0)

	assert.Equal(t, "10.0.0.100", first.DstIP)
	assert.Equal(t, uint16(1883), first.DstPort)
	assert.Equal(t, "sensors/temp", first.DeviceID)
	assert.Equal(t, 4.0, first.Features["len_mean"])
	assert.Equal(t, 60.0, first.Features["iat_mean"], "no history on a fresh topic")
	assert.Equal(t, 1.0, first.Features["qos"])
	assert.Equal(t, 0.0, first.Features["retained"])
	assert.Equal(t, "sensors/temp", first.Labels["topic"])

	second := s.buildEvent("sensors/temp", []byte("21.6"), 0, true, t0.Add(250*time.Millisecond))
	assert.Equal(t, 0.25, second.Features["iat_mean"])
	assert.Equal(t, 1.0, second.Features["retained"])

	// A different topic keeps its own arrival history.
	other := s.buildEvent("sensors/humidity", []byte("55"), 0, false, t0.Add(300*time.Millisecond))
	assert.Equal(t, 60.0, other.Features["iat_mean"])
}

func TestParseBroker(t *testing.T) {
	host, port := parseBroker("tcp://127.0.0.1:1883")
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, uint16(1883), port)

	host, port = parseBroker("tcp://broker.local")
	assert.Equal(t, "broker.local", host)
	assert.Equal(t, uint16(1883), port)
}
