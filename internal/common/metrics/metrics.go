package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	LandingPagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landing_pages_created_total",
			Help: "Landing pages created, by entry point",
		},
		[]string{"source"},
	)

	SlotRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landing_page_slot_rewrites_total",
			Help: "Template slots rewritten by the transformer",
		},
		[]string{"slot"},
	)

	SubmissionsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_throttled_total",
			Help: "Submissions rejected by the one-per-session rule",
		},
		[]string{"reason"},
	)

	ProvisioningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_attempts_total",
			Help: "Calls to the identity provisioning API, by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordSlotRewrites adds per-slot rewrite counts.
func RecordSlotRewrites(counts map[string]int) {
	for slot, n := range counts {
		if n > 0 {
			SlotRewrites.WithLabelValues(slot).Add(float64(n))
		}
	}
}
