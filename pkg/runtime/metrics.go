package runtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirror pkg/metrics's counter/gauge/histogram shapes in the
// teacher repo, rescoped from cluster-wide container counts to per-run
// node execution counts.
var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_runs_total",
			Help: "Total number of runs by terminal status",
		},
		[]string{"status"},
	)

	nodesExecutedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_nodes_executed_total",
			Help: "Total number of nodes executed (cache misses)",
		},
	)

	nodesCacheHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_nodes_cache_hit_total",
			Help: "Total number of nodes satisfied from the result cache",
		},
	)

	nodeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "studio_node_duration_seconds",
			Help: "Node execution duration by capability class",
		},
		[]string{"capability"},
	)

	capacityInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studio_capacity_in_use",
			Help: "In-flight node count per capability class",
		},
		[]string{"capability"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, nodesExecutedTotal, nodesCacheHitTotal, nodeDurationSeconds, capacityInUse)
}
