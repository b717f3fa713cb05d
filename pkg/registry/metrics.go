package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks registry activity
type Metrics struct {
	Announcements   *prometheus.CounterVec
	ParseFailures   prometheus.Counter
	TransportErrors prometheus.Counter
	DroppedPeers    prometheus.Counter

	Entries prometheus.Gauge
	Peers   prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Announcements: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "chunkcast_registry_announcements_total",
			Help: "Total number of merged announcements by outcome",
		}, []string{"outcome"}),
		ParseFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "chunkcast_registry_parse_failures_total",
			Help: "Total number of datagrams that did not decode to a usable manifest",
		}),
		TransportErrors: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "chunkcast_registry_transport_errors_total",
			Help: "Total number of receive errors",
		}),
		DroppedPeers: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "chunkcast_registry_dropped_peers_total",
			Help: "Total number of announcements dropped because the peer list was full",
		}),

		Entries: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "chunkcast_registry_entries",
			Help: "Number of registered files",
		}),
		Peers: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "chunkcast_registry_peers",
			Help: "Number of peers across all entries",
		}),
	}

	// pre-create every outcome series so they export as zero
	for _, o := range []Outcome{OutcomeRegistered, OutcomePeerAdded, OutcomeDuplicate, OutcomeDropped} {
		m.Announcements.WithLabelValues(o.String())
	}

	return m
}

func (m *Metrics) observe(outcome Outcome, entries, peers int) {
	if m == nil {
		return
	}
	m.Announcements.WithLabelValues(outcome.String()).Inc()
	if outcome == OutcomeDropped {
		m.DroppedPeers.Inc()
	}
	m.Entries.Set(float64(entries))
	m.Peers.Set(float64(peers))
}

func (m *Metrics) parseFailure() {
	if m != nil {
		m.ParseFailures.Inc()
	}
}

func (m *Metrics) transportError() {
	if m != nil {
		m.TransportErrors.Inc()
	}
}
