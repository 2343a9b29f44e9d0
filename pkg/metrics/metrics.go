package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrivest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrivest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agrivest_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Distribution metrics
	DistributionsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrivest_distributions_executed_total",
			Help: "Total number of distribution executions by outcome",
		},
		[]string{"status"}, // "success", "rejected", "error"
	)

	DistributionExecuteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrivest_distribution_execute_duration_seconds",
			Help:    "Duration of the distribution execute transaction in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	DistributionHoldersPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrivest_distribution_holders_per_run",
			Help:    "Number of holder entries written per distribution",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Settlement metrics
	SettlementLegsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrivest_settlement_legs_total",
			Help: "Total number of settlement leg dispatches by leg type and resulting status",
		},
		[]string{"leg_type", "status"}, // status: "confirmed", "pending", "failed", "unknown"
	)

	SettlementCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrivest_settlement_call_duration_seconds",
			Help:    "Duration of settlement collaborator calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	// Scheduler metrics
	UnlockSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrivest_unlock_sweeps_total",
			Help: "Total number of unlock sweeps by outcome",
		},
		[]string{"status"},
	)

	TokensUnlockedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agrivest_unlock_sweep_rows_total",
			Help: "Total number of balances released by unlock sweeps",
		},
	)

	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrivest_reconcile_runs_total",
			Help: "Total number of settlement reconciliation runs by outcome",
		},
		[]string{"status"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDistribution records one Execute call. Rejected covers callers that
// lost the race or hit a validation error.
func RecordDistribution(duration time.Duration, holders int, rejected bool, err error) {
	status := outcome(err)
	if rejected {
		status = "rejected"
	}
	DistributionsExecutedTotal.WithLabelValues(status).Inc()
	DistributionExecuteDuration.Observe(duration.Seconds())
	if err == nil {
		DistributionHoldersPerRun.Observe(float64(holders))
	}
}

// RecordSettlementLeg records the status a leg ended a dispatch in.
func RecordSettlementLeg(legType, status string, duration time.Duration) {
	SettlementLegsTotal.WithLabelValues(legType, status).Inc()
	SettlementCallDuration.Observe(duration.Seconds())
}

// RecordUnlockSweep records one SweepUnlocks run.
func RecordUnlockSweep(released int, err error) {
	UnlockSweepsTotal.WithLabelValues(outcome(err)).Inc()
	TokensUnlockedRows.Add(float64(released))
}

// RecordReconcile records one reconciliation pass.
func RecordReconcile(err error) {
	ReconcileRunsTotal.WithLabelValues(outcome(err)).Inc()
}
