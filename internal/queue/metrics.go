// Prometheus collectors for the durable job queue.
//
// Label cardinality follows the HTTP middleware conventions: job type and a
// coarse status/result keep series bounded while staying actionable in
// dashboards (backlog depth, failure rate, throughput).
package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Current number of jobs per type and status.",
		},
		[]string{"type", "status"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Job handler executions per type and result (completed, retried, failed).",
		},
		[]string{"type", "result"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Job handler execution time per type.",
			Buckets: []float64{0.05, 0.2, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	jobsPerMinute = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_completed_per_minute",
			Help: "Jobs completed over the last minute, per type.",
		},
		[]string{"type"},
	)
)
