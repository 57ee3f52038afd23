package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BatchesSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_batches_submitted_total",
			Help: "Total number of accepted batch submissions.",
		},
	)

	BatchesFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_batches_finished_total",
			Help: "Total number of batches reaching a terminal status, by status.",
		},
		[]string{"status"},
	)

	BatchTargets = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_batch_targets",
			Help:    "Number of targets per submitted batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	ChildExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_child_executions_total",
			Help: "Total number of child executions by terminal status and error kind.",
		},
		[]string{"status", "error_kind"},
	)

	ChildExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fanout_child_execution_duration_seconds",
			Help:    "Duration of child executions in seconds, retries included.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	ExecutionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_execution_retries_total",
			Help: "Total number of retried remote attempts by failure kind.",
		},
		[]string{"error_kind"},
	)

	ExecutionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_executions_in_flight",
			Help: "Number of remote executions currently holding a concurrency slot.",
		},
	)

	GovernorWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_governor_wait_seconds",
			Help:    "Time spent waiting for a concurrency slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_remote_requests_total",
			Help: "Total number of remote API requests by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	WorkerClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_worker_claims_total",
			Help: "Total number of child executions successfully claimed by node.",
		},
		[]string{"node_id"},
	)

	WorkerClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_worker_claim_contention_total",
			Help: "Total number of claim attempts lost to another node.",
		},
		[]string{"node_id"},
	)

	WorkerRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_worker_recovered_total",
			Help: "Total number of orphaned child executions picked up by recovery.",
		},
		[]string{"node_id"},
	)
)

// Collectors lists every fanout metric.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		BatchesSubmittedTotal,
		BatchesFinishedTotal,
		BatchTargets,
		ChildExecutionsTotal,
		ChildExecutionDurationSeconds,
		ExecutionRetriesTotal,
		ExecutionsInFlight,
		GovernorWaitSeconds,
		RemoteRequestsTotal,
		WorkerClaimsTotal,
		WorkerClaimContentionTotal,
		WorkerRecoveredTotal,
	}
}

// Register registers all custom fanout metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(Collectors()...)
}
