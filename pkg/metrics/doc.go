/*
Package metrics provides Prometheus metrics and process health reporting for
keepwarm.

All metrics are package-level collectors registered with the default registry
at init and exposed by Handler on /metrics:

	keepwarm_reconciliations_total{app,reason}
	keepwarm_reconciliation_duration_seconds{app}
	keepwarm_control_api_requests_total{method,status}
	keepwarm_lock_store_errors_total{op}
	keepwarm_lock_held{app}
	keepwarm_sweeps_total
	keepwarm_sweep_duration_seconds
	keepwarm_api_requests_total{path,status}
	keepwarm_api_request_duration_seconds{path}

Timer is a small helper for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconciliationDuration, app)

# Health

Components report their state with SetComponent. Health is unhealthy when
any component is. Readiness additionally requires the store, scheduler and
api components to have reported healthy. HealthHandler, ReadyHandler and LivenessHandler serve these as JSON.

Collector refreshes keepwarm_lock_held from the lock manager once a minute.
*/
package metrics
