package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepwarm_reconciliations_total",
			Help: "Total number of reconciliation runs by app and reason",
		},
		[]string{"app", "reason"},
	)

	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keepwarm_reconciliation_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
		},
		[]string{"app"},
	)

	// Control plane metrics
	ControlAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepwarm_control_api_requests_total",
			Help: "Total number of control plane requests by method and status",
		},
		[]string{"method", "status"},
	)

	// Lock metrics
	LockStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepwarm_lock_store_errors_total",
			Help: "Total number of absorbed lock store errors by operation",
		},
		[]string{"op"},
	)

	LocksHeld = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keepwarm_lock_held",
			Help: "Whether today's start lock is held for an app (1 = held)",
		},
		[]string{"app"},
	)

	// Scheduler metrics
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keepwarm_sweeps_total",
			Help: "Total number of scheduled sweeps executed",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keepwarm_sweep_duration_seconds",
			Help:    "Scheduled sweep duration in seconds",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepwarm_api_requests_total",
			Help: "Total number of control surface requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keepwarm_api_request_duration_seconds",
			Help:    "Control surface request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ControlAPIRequestsTotal)
	prometheus.MustRegister(LockStoreErrorsTotal)
	prometheus.MustRegister(LocksHeld)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on the labelled child of h
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
