package tr101290

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet is the optional Prometheus wiring for a Monitor: a raised/
// cleared transition counter per event, labelled by event id and priority,
// plus a gauge mirroring each event's currently-raised state. Mirrors the
// plain-struct alarm bookkeeping the original tracks but made registerable
// when a caller opts in (§2 Domain stack).
type metricsSet struct {
	transitions *prometheus.CounterVec
	raisedNow   *prometheus.GaugeVec
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tstools",
			Subsystem: "tr101290",
			Name:      "alarm_transitions_total",
			Help:      "Number of raised/cleared transitions delivered per event.",
		}, []string{"event", "priority", "state"}),
		raisedNow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tstools",
			Subsystem: "tr101290",
			Name:      "alarm_raised",
			Help:      "1 if the event is currently raised, 0 if cleared.",
		}, []string{"event", "priority"}),
	}
	reg.MustRegister(m.transitions, m.raisedNow)
	return m
}

// record updates the transition counter and raised gauge for id's delivery
// of a state change to raised.
func (m *metricsSet) record(id EventID, raised bool) {
	priority := strconv.Itoa(defaults[id].priority)
	state := "cleared"
	gauge := 0.0
	if raised {
		state = "raised"
		gauge = 1.0
	}
	m.transitions.WithLabelValues(id.String(), priority, state).Inc()
	m.raisedNow.WithLabelValues(id.String(), priority).Set(gauge)
}
