package supervisor

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts per-agent pipeline activity.
type Metrics struct {
	Events          *prometheus.CounterVec
	Detections      *prometheus.CounterVec
	SampledOut      *prometheus.CounterVec
	NormalizeErrors *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fal_agent_events_total",
			Help: "Raw events collected, per protocol agent.",
		}, []string{"agent"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fal_agent_detections_total",
			Help: "Events that crossed the alert threshold and were normalized.",
		}, []string{"agent"}),
		SampledOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fal_agent_sampled_out_total",
			Help: "Above-threshold events skipped by the policy sampling rate.",
		}, []string{"agent"}),
		NormalizeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fal_agent_normalize_errors_total",
			Help: "Events dropped because the detector output was invalid.",
		}, []string{"agent"}),
	}
	reg.MustRegister(m.Events, m.Detections, m.SampledOut, m.NormalizeErrors)
	return m
}

func (s *Supervisor) countEvent(agent string) {
	if s.metrics != nil {
		s.metrics.Events.WithLabelValues(agent).Inc()
	}
}

func (s *Supervisor) countDetection(agent string) {
	if s.metrics != nil {
		s.metrics.Detections.WithLabelValues(agent).Inc()
	}
}

func (s *Supervisor) countSampledOut(agent string) {
	if s.metrics != nil {
		s.metrics.SampledOut.WithLabelValues(agent).Inc()
	}
}

func (s *Supervisor) countNormalizeError(agent string) {
	if s.metrics != nil {
		s.metrics.NormalizeErrors.WithLabelValues(agent).Inc()
	}
}
