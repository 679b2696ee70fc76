// Package metrics defines the Prometheus collectors exported by the
// rendezvous server. Collectors are registered on a caller supplied
// registerer, so tests can use a fresh registry each time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixed to every metric name.
const Namespace = "rendezvous"

// Metrics collected by the server.
type Metrics struct {
	ConnsAccepted prometheus.Counter
	ConnsRefused  *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	Durations     *prometheus.HistogramVec
	Peers         prometheus.Gauge
	PersistErrors prometheus.Counter
}

// New returns Metrics registered on reg. A nil reg leaves the collectors
// unregistered, which is useful when metrics are not exported.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections admitted for handling.",
		}),
		ConnsRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_refused_total",
			Help:      "Connections dropped by admission control.",
		}, []string{"reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by command type and response status.",
		}, []string{"type", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a request, excluding network I/O.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "peers",
			Help:      "Live peer registrations.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes of the peer snapshot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnsAccepted, m.ConnsRefused, m.Requests, m.Durations, m.Peers, m.PersistErrors)
	}
	return m
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(ty, status string, elapsed time.Duration) {
	m.Requests.WithLabelValues(ty, status).Inc()
	m.Durations.WithLabelValues(ty).Observe(elapsed.Seconds())
}

// ObserveRefused records one connection refused for the given reason.
func (m *Metrics) ObserveRefused(reason string) {
	m.ConnsRefused.WithLabelValues(reason).Inc()
}
