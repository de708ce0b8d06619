package uplink

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the delivery counters the connector maintains when
// constructed with WithMetrics.
type Metrics struct {
	Sent         prometheus.Counter
	Buffered     prometheus.Counter
	DeadLettered prometheus.Counter
	Retries      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fal_uplink_sent_total",
			Help: "Records acknowledged by the cloud ingress.",
		}),
		Buffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fal_uplink_buffered_total",
			Help: "Records parked in the durable buffer after retry exhaustion.",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fal_uplink_dead_lettered_total",
			Help: "Records rejected permanently by the cloud ingress.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fal_uplink_retries_total",
			Help: "Send attempts that failed with a retryable error.",
		}),
	}
	reg.MustRegister(m.Sent, m.Buffered, m.DeadLettered, m.Retries)
	return m
}

func (c *Connector) countSent() {
	if c.metrics != nil {
		c.metrics.Sent.Inc()
	}
}

func (c *Connector) countBuffered() {
	if c.metrics != nil {
		c.metrics.Buffered.Inc()
	}
}

func (c *Connector) countDeadLettered() {
	if c.metrics != nil {
		c.metrics.DeadLettered.Inc()
	}
}

func (c *Connector) countRetry() {
	if c.metrics != nil {
		c.metrics.Retries.Inc()
	}
}
