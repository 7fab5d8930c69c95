package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsConsumed counts records read from a source topic.
	RecordsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiresql_records_consumed_total",
			Help: "Total number of records read from source topics",
		},
		[]string{"query", "topic"},
	)
	// RecordsPublished counts records written to a sink topic.
	RecordsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiresql_records_published_total",
			Help: "Total number of records published to sink topics",
		},
		[]string{"query", "topic"},
	)
	// RecordsDropped counts records dropped by an operator after a
	// per-record failure.
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wiresql_records_dropped_total",
			Help: "Total number of records dropped after a per-record error",
		},
		[]string{"query", "operator"},
	)
	// QueriesRunning is the number of live queries.
	QueriesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wiresql_queries_running",
			Help: "Number of running queries",
		},
	)
)

// Forget removes every series labeled with query. Call it once a query is
// gone so terminated queries do not pile up in the registry.
func Forget(query string) {
	labels := prometheus.Labels{"query": query}
	RecordsConsumed.DeletePartialMatch(labels)
	RecordsPublished.DeletePartialMatch(labels)
	RecordsDropped.DeletePartialMatch(labels)
}
