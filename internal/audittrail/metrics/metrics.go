package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EntriesRecorded *prometheus.CounterVec
	WriteFailures   prometheus.Counter
	OutboxPublished prometheus.Counter
	OutboxPending   prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		EntriesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dhfcore_audit_entries_recorded_total",
			Help: "Total audit trail entries recorded, by action",
		}, []string{"action"}),
		WriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_audit_write_failures_total",
			Help: "Total audit trail write failures (each one aborted an operation)",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_audit_outbox_published_total",
			Help: "Total audit entries published to Kafka from the outbox",
		}),
		OutboxPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dhfcore_audit_outbox_pending",
			Help: "Audit outbox rows awaiting publication",
		}),
	}
}

func (m *Metrics) IncEntriesRecorded(action string) {
	m.EntriesRecorded.WithLabelValues(action).Inc()
}

func (m *Metrics) IncWriteFailures() {
	m.WriteFailures.Inc()
}

func (m *Metrics) IncOutboxPublished() {
	m.OutboxPublished.Inc()
}

func (m *Metrics) SetOutboxPending(n int) {
	m.OutboxPending.Set(float64(n))
}
