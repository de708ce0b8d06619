package agents

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/uer"
)

// MQTT watches broker traffic. Oversized publishes and high-frequency
// bursts are the signals; everything else scores zero.
type MQTT struct {
	src Source
}

// NewMQTT attaches to the configured broker, or falls back to the
// synthetic source when no broker is configured.
func NewMQTT(cfg Config, log *zap.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return &MQTT{src: NewSyntheticSource(cfg.Interval, syntheticMQTTEvent)}, nil
	}
	src, err := NewPahoSource(cfg.Broker, cfg.Topics, log)
	if err != nil {
		return nil, err
	}
	return &MQTT{src: src}, nil
}

func (m *MQTT) Tag() string { return "mqtt" }

func (m *MQTT) Collect(ctx context.Context) (uer.RawEvent, error) {
	return m.src.Next(ctx)
}

func (m *MQTT) Detect(raw uer.RawEvent) uer.Detection {
	score := 0.0
	var hints []string

	if raw.Features["len_mean"] > 1000 {
		score = 0.7
		hints = append(hints, "T1041")
	}
	if raw.Features["iat_mean"] < 0.01 {
		score = 0.8
		hints = append(hints, "T1499")
	}

	return uer.Detection{
		Score:     score,
		Conf:      0.85,
		Model:     "mqtt-v1",
		Entities:  []string{"device_id", "topic"},
		AttckHint: hints,
	}
}

func (m *MQTT) Close() error { return m.src.Close() }

// PahoSource subscribes to an MQTT broker and turns each publish into
// a raw event. Message handling runs on the paho callback goroutine;
// if the consumer falls behind, messages are dropped rather than
// blocking the broker connection.
type PahoSource struct {
	client     mqtt.Client
	events     chan uer.RawEvent
	brokerHost string
	brokerPort uint16
	log        *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewPahoSource(broker string, topics []string, log *zap.Logger) (*PahoSource, error) {
	host, port := parseBroker(broker)
	s := &PahoSource{
		events:     make(chan uer.RawEvent, 256),
		brokerHost: host,
		brokerPort: port,
		log:        log,
		lastSeen:   make(map[string]time.Time),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("fal-edge-%d", os.Getpid())).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	s.client = mqtt.NewClient(opts)

	tok := s.client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, errors.New("agents: mqtt connect timeout")
	}
	if tok.Error() != nil {
		return nil, fmt.Errorf("agents: mqtt connect: %w", tok.Error())
	}

	if len(topics) == 0 {
		topics = []string{"#"}
	}
	for _, t := range topics {
		sub := s.client.Subscribe(t, 0, s.onMessage)
		if !sub.WaitTimeout(10 * time.Second) {
			s.client.Disconnect(250)
			return nil, fmt.Errorf("agents: mqtt subscribe %s timeout", t)
		}
		if sub.Error() != nil {
			s.client.Disconnect(250)
			return nil, fmt.Errorf("agents: mqtt subscribe %s: %w", t, sub.Error())
		}
	}
	log.Info("mqtt source attached", zap.String("broker", broker), zap.Strings("topics", topics))
	return s, nil
}

func (s *PahoSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev := s.buildEvent(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained(), time.Now().UTC())
	select {
	case s.events <- ev:
	default:
		s.log.Debug("event channel full, message dropped", zap.String("topic", msg.Topic()))
	}
}

func (s *PahoSource) buildEvent(topic string, payload []byte, qos byte, retained bool, now time.Time) uer.RawEvent {
	s.mu.Lock()
	last, seen := s.lastSeen[topic]
	s.lastSeen[topic] = now
	s.mu.Unlock()

	// First message on a topic has no inter-arrival history yet.
	iat := 60.0
	if seen {
		iat = now.Sub(last).Seconds()
	}
	ret := 0.0
	if retained {
		ret = 1.0
	}

	return uer.RawEvent{
		TS:       now,
		DstIP:    s.brokerHost,
		DstPort:  s.brokerPort,
		DeviceID: topic,
		Features: map[string]float64{
			"len_mean": float64(len(payload)),
			"iat_mean": iat,
			"pkt":      1,
			"qos":      float64(qos),
			"retained": ret,
		},
		Labels: map[string]string{"topic": topic},
	}
}

func (s *PahoSource) Next(ctx context.Context) (uer.RawEvent, error) {
	select {
	case <-ctx.Done():
		return uer.RawEvent{}, ctx.Err()
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *PahoSource) Close() error {
	s.client.Disconnect(250)
	return nil
}

func parseBroker(broker string) (string, uint16) {
	u, err := url.Parse(broker)
	if err != nil {
		return "", 0
	}
	port := uint16(1883)
	if p, err := strconv.ParseUint(u.Port(), 10, 16); err == nil {
		port = uint16(p)
	}
	return u.Hostname(), port
}

func syntheticMQTTEvent() uer.RawEvent {
	return uer.RawEvent{
		TS:       time.Now().UTC(),
		SrcIP:    "192.168.1.10",
		DstIP:    "10.0.0.100",
		SrcPort:  uint16(50000 + rand.Intn(10000)),
		DstPort:  1883,
		DeviceID: fmt.Sprintf("device-%d", 1+rand.Intn(100)),
		Features: map[string]float64{
			"len_mean": float64(50 + rand.Intn(450)),
			"iat_mean": 1.0 + rand.Float64()*99.0,
			"pkt":      float64(1 + rand.Intn(10)),
		},
		Labels: map[string]string{"topic": "sensors/temperature"},
	}
}
