package impl

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dolr"

// metrics of one node. Every node registers into its own registry so that
// several nodes can live in one process.
type metrics struct {
	registry *prometheus.Registry

	received           *prometheus.CounterVec
	forwarded          prometheus.Counter
	delivered          *prometheus.CounterVec
	evictions          prometheus.Counter
	hopBudgetExhausted prometheus.Counter
	published          prometheus.Counter
	unpublished        prometheus.Counter
	remedial           prometheus.Counter
	outcomesDropped    prometheus.Counter
	storedObjects      prometheus.Gauge
}

func newMetrics(n *node) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),

		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Messages handled by the node, by message type.",
		}, []string{"type"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_forwarded_total",
			Help:      "Messages handed to a next hop.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_delivered_total",
			Help:      "Messages dispatched to a local handler, by service.",
		}, []string{"service"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "neighbor_evictions_total",
			Help:      "Neighbors removed from the routing table after a delivery failure.",
		}),
		hopBudgetExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hop_budget_exhausted_total",
			Help:      "Messages dropped because their hop budget ran out.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "publish_emitted_total",
			Help:      "Publish messages emitted by the object store.",
		}),
		unpublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unpublish_emitted_total",
			Help:      "Unpublish messages emitted by the object store.",
		}),
		remedial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "remedial_unpublish_total",
			Help:      "Unpublish messages emitted for objects a publisher no longer holds.",
		}),
		outcomesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reputation_outcomes_dropped_total",
			Help:      "Reputation outcomes dropped because the queue was full.",
		}),
		storedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stored_objects",
			Help:      "Objects in the local store.",
		}),
	}

	m.registry.MustRegister(
		m.received,
		m.forwarded,
		m.delivered,
		m.evictions,
		m.hopBudgetExhausted,
		m.published,
		m.unpublished,
		m.remedial,
		m.outcomesDropped,
		m.storedObjects,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "neighbors",
			Help:      "Distinct neighbors in the routing table.",
		}, func() float64 { return float64(len(n.routing.Neighbors())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "back_pointers",
			Help:      "Publish records held, expired ones included until the next sweep.",
		}, func() float64 { return float64(n.backPointers.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "reputation_records",
			Help:      "Neighbors with a reputation record.",
		}, func() float64 { return float64(n.dossier.Len()) }),
	)

	return m
}
