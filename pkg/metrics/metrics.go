package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	TrovesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conary_troves_total",
			Help: "Total number of installed troves by type",
		},
		[]string{"type"},
	)

	CASObjectsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conary_cas_objects_total",
			Help: "Total number of content-addressed objects in the store",
		},
	)

	CASBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conary_cas_bytes_total",
			Help: "Total bytes occupied by content-addressed objects",
		},
	)

	// Transaction metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conary_transactions_total",
			Help: "Total number of transactions by final state",
		},
		[]string{"state"},
	)

	TransactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conary_transaction_duration_seconds",
			Help:    "Transaction duration in seconds by phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conary_recoveries_total",
			Help: "Total number of crash-recovered transactions by action taken",
		},
		[]string{"action"},
	)

	// Job queue metrics
	JobsQueuedTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conary_jobs_queued_total",
			Help: "Current number of jobs by status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conary_job_duration_seconds",
			Help:    "Job execution duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Resolver metrics
	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conary_resolution_duration_seconds",
			Help:    "Time taken to resolve a dependency set in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolutionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conary_resolution_conflicts_total",
			Help: "Total number of unresolved dependency conflicts encountered",
		},
	)

	// Delta engine metrics
	DeltaAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conary_delta_applied_total",
			Help: "Total number of delta patches applied instead of full downloads",
		},
	)

	DeltaBytesSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conary_delta_bytes_saved_total",
			Help: "Total bytes saved by applying deltas instead of full content",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conary_api_requests_total",
			Help: "Total number of daemon API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conary_api_request_duration_seconds",
			Help:    "Daemon API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Trigger metrics
	TriggersExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conary_triggers_executed_total",
			Help: "Total number of triggers executed by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(TrovesTotal)
	prometheus.MustRegister(CASObjectsTotal)
	prometheus.MustRegister(CASBytesTotal)
	prometheus.MustRegister(TransactionsTotal)
	prometheus.MustRegister(TransactionDuration)
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(JobsQueuedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(ResolutionDuration)
	prometheus.MustRegister(ResolutionConflictsTotal)
	prometheus.MustRegister(DeltaAppliedTotal)
	prometheus.MustRegister(DeltaBytesSaved)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TriggersExecutedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
