package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "factsync"

// metrics are registered on a registry owned by the node, so several nodes can
// live in one process.
type metrics struct {
	facts         prometheus.Gauge
	peers         prometheus.Gauge
	sessions      *prometheus.CounterVec
	sessionRounds prometheus.Histogram
	records       *prometheus.CounterVec
	announcements *prometheus.CounterVec
	rpcs          *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		facts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "facts",
			Help:      "Number of facts in the local store",
		}),
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "peers",
			Help:      "Number of known peers",
		}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Sync sessions by outcome",
		}, []string{"result"}),
		sessionRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "session_rounds",
			Help:      "Tree request rounds per sync session",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records transferred by sync sessions",
		}, []string{"direction"}),
		announcements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "discovery",
			Name:      "announcements_total",
			Help:      "Announcements sent and received, by outcome",
		}, []string{"result"}),
		rpcs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "net",
			Name:      "rpcs_total",
			Help:      "RPC requests served, by command",
		}, []string{"command"}),
	}
}
