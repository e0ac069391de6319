package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_worker_jobs_completed_total",
			Help: "Total number of jobs that produced an output artifact.",
		},
		[]string{"engine"},
	)

	jobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxlane_worker_jobs_failed_total",
			Help: "Total number of jobs that ended with a failure record.",
		},
		[]string{"engine", "kind"},
	)

	synthesisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxlane_worker_synthesis_duration_seconds",
			Help:    "Wall-clock duration of successful engine invocations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"engine"},
	)
)

func init() {
	prometheus.MustRegister(jobsCompleted)
	prometheus.MustRegister(jobsFailed)
	prometheus.MustRegister(synthesisDuration)
}

// MetricsHandler returns the Prometheus handler for the worker's optional
// metrics listener.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
