/*
Package metrics provides Prometheus metrics collection and exposition for
conaryd.

Metrics are registered at package init with prometheus.MustRegister and
exposed over HTTP via Handler() (conaryd mounts it at /metrics). Collector
periodically samples the metadata store and CAS and sets the store gauges
(conary_troves_total, conary_cas_objects_total, conary_cas_bytes_total).
No code in the module updates the other metrics listed below: they are
registered and exposed, but nothing records observations into them.

# Metric categories

Store:
  - conary_troves_total{type}: installed troves by type
  - conary_cas_objects_total, conary_cas_bytes_total: CAS occupancy

Transactions:
  - conary_transactions_total{state}: completed transactions by final state
  - conary_transaction_duration_seconds{phase}: per-phase latency
  - conary_recoveries_total{action}: crash recoveries by action taken
    (rolled_back, rolled_forward, none)

Job queue:
  - conary_jobs_queued_total{status}: current job counts by status
  - conary_job_duration_seconds{kind}: job execution latency by kind

Resolver:
  - conary_resolution_duration_seconds, conary_resolution_conflicts_total

Delta engine:
  - conary_delta_applied_total, conary_delta_bytes_saved_total

API:
  - conary_api_requests_total{route,status}, conary_api_request_duration_seconds{route}

Triggers:
  - conary_triggers_executed_total{outcome}

# Timer

Timer is a small helper for observing operation duration:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ResolutionDuration)

# Health

HealthChecker (health.go) tracks named component health independently of
the Prometheus metrics above, for conaryd's richer /health and /ready
payloads: RegisterComponent/UpdateComponent record a component's state,
GetHealth/GetReadiness summarize it. Readiness treats "store", "journal",
and "jobqueue" as the critical components a daemon cannot serve without.
*/
package metrics
