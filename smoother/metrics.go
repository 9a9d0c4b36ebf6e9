package smoother

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the optional Prometheus wiring for a Smoother, mirroring
// the plain-struct statistics the original tracks in stats.c but exposed
// as registerable gauges/counters when a caller opts in (§2 Domain stack).
type metricsSet struct {
	queueDepth     prometheus.Gauge
	freelistGrowth prometheus.Counter
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tstools",
			Subsystem: "smoother",
			Name:      "queue_depth",
			Help:      "Number of items currently queued for scheduled output.",
		}),
		freelistGrowth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tstools",
			Subsystem: "smoother",
			Name:      "freelist_growth_total",
			Help:      "Number of times the item freelist grew on demand.",
		}),
	}
	reg.MustRegister(m.queueDepth, m.freelistGrowth)
	return m
}
