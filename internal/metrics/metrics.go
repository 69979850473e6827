// Package metrics exposes Prometheus collectors for scans.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

var (
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadscan_jobs_submitted_total",
			Help: "Total number of scan jobs submitted",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscan_jobs_finished_total",
			Help: "Total number of scan jobs by terminal state",
		},
		[]string{"state"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadscan_jobs_active",
			Help: "Number of scan jobs currently running",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadscan_job_duration_seconds",
			Help:    "Duration of scan jobs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"state"},
	)

	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscan_items_processed_total",
			Help: "Candidate items processed by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	LeadsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscan_leads_total",
			Help: "Leads in finished job results by source",
		},
		[]string{"source"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadscan_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscan_ratelimit_denied_total",
			Help: "Rate limiter acquisitions that failed",
		},
		[]string{"source"},
	)
)

// JobSubmitted records a new submission.
func JobSubmitted() { JobsSubmitted.Inc() }

// JobStarted marks a job as running.
func JobStarted() { JobsActive.Inc() }

// JobFinished records a terminal snapshot. Snapshots that never ran leave
// the active gauge alone.
func JobFinished(s job.Snapshot) {
	state := string(s.State)
	JobsFinished.WithLabelValues(state).Inc()
	if s.StartedAt.IsZero() {
		return
	}
	JobsActive.Dec()
	if !s.FinishedAt.IsZero() {
		JobDuration.WithLabelValues(state).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	}
	for _, l := range s.Results {
		LeadsAccepted.WithLabelValues(string(l.Source)).Inc()
	}
}

// ItemProcessed matches job.Config.OnItem.
func ItemProcessed(src model.Source, outcome job.ItemOutcome) {
	ItemsProcessed.WithLabelValues(string(src), string(outcome)).Inc()
}

// ObserveRateLimit matches ratelimit.Observer.
func ObserveRateLimit(source string, wait time.Duration, err error) {
	if err != nil {
		RateLimitDenied.WithLabelValues(source).Inc()
		return
	}
	RateLimitWait.WithLabelValues(source).Observe(wait.Seconds())
}
