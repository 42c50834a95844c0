package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ArtifactsCreated prometheus.Counter
	LinksCreated     prometheus.Counter
	LinksRemoved     prometheus.Counter
	LinkRejections   *prometheus.CounterVec
	GraphCacheHits   prometheus.Counter
	GraphCacheMisses prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ArtifactsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_traceability_artifacts_created_total",
			Help: "Total artifacts created",
		}),
		LinksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_traceability_links_created_total",
			Help: "Total trace links created",
		}),
		LinksRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_traceability_links_removed_total",
			Help: "Total trace links removed",
		}),
		LinkRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dhfcore_traceability_link_rejections_total",
			Help: "Link creations rejected, by reason",
		}, []string{"reason"}),
		GraphCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_traceability_graph_cache_hits_total",
			Help: "Graph reads served from cache",
		}),
		GraphCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dhfcore_traceability_graph_cache_misses_total",
			Help: "Graph reads rebuilt from the store",
		}),
	}
}

func (m *Metrics) IncArtifactsCreated() { m.ArtifactsCreated.Inc() }
func (m *Metrics) IncLinksCreated()     { m.LinksCreated.Inc() }
func (m *Metrics) IncLinksRemoved()     { m.LinksRemoved.Inc() }

func (m *Metrics) IncLinkRejections(reason string) {
	m.LinkRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncGraphCacheHits()   { m.GraphCacheHits.Inc() }
func (m *Metrics) IncGraphCacheMisses() { m.GraphCacheMisses.Inc() }
