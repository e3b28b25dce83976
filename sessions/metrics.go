package sessions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invalidation results.
const (
	resultDeleted  = "deleted"
	resultNotFound = "not_found"
	resultFailed   = "failed"
	resultRejected = "rejected"
)

// Metrics are the invalidator's Prometheus collectors.  A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	invalidations *prometheus.CounterVec
	deleted       prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewMetrics registers the invalidator collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "sessions",
			Name:      "invalidations_total",
			Help:      "Password change events handled, by result.",
		}, []string{"result"}),
		deleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "sessions",
			Name:      "deleted_total",
			Help:      "Web session rows deleted after password changes.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "sessions",
			Name:      "in_flight",
			Help:      "Invalidations queued or running.",
		}),
	}
}

func (m *Metrics) observe(result string, deleted int64) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.deleted.Add(float64(deleted))
	}
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
