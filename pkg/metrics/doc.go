/*
Package metrics exposes Prometheus metrics and health endpoints for gridbalance.

All collectors are package-level and registered with the default registry in
init, so any package can record without passing a registry around:

	metrics.NodesPicked.WithLabelValues("adaptive").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CollisionCheckDuration)

# Metrics

Balancers:
  - gridbalance_nodes_picked_total{balancer}
  - gridbalance_pick_errors_total{balancer,reason}
  - gridbalance_selector_builds_total{reason}: cached, built, rebuilt

Collision resolution:
  - gridbalance_jobs_activated_total
  - gridbalance_jobs_stolen_total
  - gridbalance_steal_requests_sent_total
  - gridbalance_steal_requests_received_total{outcome}
  - gridbalance_collision_check_duration_seconds

Tracker (sampled by Collector):
  - gridbalance_tracked_nodes
  - gridbalance_active_tasks

# Health

Components report their state with UpdateComponent. /health fails when any
component is unhealthy; /ready waits for the critical set (transport and
tracker by default). Mux serves /metrics, /health and /ready together.
*/
package metrics
