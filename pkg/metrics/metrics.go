package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Balancer metrics
	NodesPicked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbalance_nodes_picked_total",
			Help: "Total number of job-to-node mappings by balancer",
		},
		[]string{"balancer"},
	)

	PickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbalance_pick_errors_total",
			Help: "Total number of failed job-to-node mappings by balancer and reason",
		},
		[]string{"balancer", "reason"},
	)

	SelectorBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbalance_selector_builds_total",
			Help: "Weighted selector lookups by outcome (cached, built, rebuilt)",
		},
		[]string{"reason"},
	)

	// Collision metrics
	JobsActivated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbalance_jobs_activated_total",
			Help: "Total number of waiting jobs activated locally",
		},
	)

	JobsStolen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbalance_jobs_stolen_total",
			Help: "Total number of waiting jobs rejected to a thief node",
		},
	)

	StealRequestsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbalance_steal_requests_sent_total",
			Help: "Total number of job stealing requests sent to peers",
		},
	)

	StealRequestsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbalance_steal_requests_received_total",
			Help: "Total number of job stealing requests received by outcome",
		},
		[]string{"outcome"},
	)

	CollisionCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridbalance_collision_check_duration_seconds",
			Help:    "Time taken by one collision resolution pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	// Tracker metrics
	TrackedNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbalance_tracked_nodes",
			Help: "Number of alive nodes known to the tracker",
		},
	)

	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbalance_active_tasks",
			Help: "Number of task sessions with mapped jobs that have not finished",
		},
	)

	// Node metrics
	NodeCPULoad = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbalance_node_cpu_load",
			Help: "Host CPU utilization published in the local node snapshot (0..1)",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesPicked)
	prometheus.MustRegister(PickErrors)
	prometheus.MustRegister(SelectorBuilds)
	prometheus.MustRegister(JobsActivated)
	prometheus.MustRegister(JobsStolen)
	prometheus.MustRegister(StealRequestsSent)
	prometheus.MustRegister(StealRequestsReceived)
	prometheus.MustRegister(CollisionCheckDuration)
	prometheus.MustRegister(TrackedNodes)
	prometheus.MustRegister(ActiveTasks)
	prometheus.MustRegister(NodeCPULoad)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
