package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	GateDecisions      *prometheus.CounterVec
	DuplicateApprovals prometheus.Counter
	UnauthorizedActors prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dhfcore_approval_gate_decisions_total",
			Help: "Gate review decisions by outcome",
		}, []string{"decision"}),
		DuplicateApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_approval_duplicate_approvals_total",
			Help: "Approve calls rejected by the idempotency guard",
		}),
		UnauthorizedActors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_approval_unauthorized_total",
			Help: "Gate decisions rejected by the role check",
		}),
	}
}

func (m *Metrics) IncDecision(decision string) {
	m.GateDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncDuplicateApprovals() {
	m.DuplicateApprovals.Inc()
}

func (m *Metrics) IncUnauthorized() {
	m.UnauthorizedActors.Inc()
}
