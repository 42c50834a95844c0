package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PhaseActivations   prometheus.Counter
	SequenceViolations prometheus.Counter
	PhasesCompleted    prometheus.Counter
	ReviewSubmissions  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		PhaseActivations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_phasegate_activations_total",
			Help: "Total phase activations",
		}),
		SequenceViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_phasegate_sequence_violations_total",
			Help: "Total rejected out-of-order activation attempts",
		}),
		PhasesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_phasegate_phases_completed_total",
			Help: "Total phases reaching completed",
		}),
		ReviewSubmissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_phasegate_review_submissions_total",
			Help: "Total phases submitted for review",
		}),
	}
}

func (m *Metrics) IncActivations() {
	m.PhaseActivations.Inc()
}

func (m *Metrics) IncSequenceViolations() {
	m.SequenceViolations.Inc()
}

func (m *Metrics) IncPhasesCompleted() {
	m.PhasesCompleted.Inc()
}

func (m *Metrics) IncReviewSubmissions() {
	m.ReviewSubmissions.Inc()
}
