package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxlane/voxlane/internal/queue"
)

var jobsSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "voxlane_jobs_submitted_total",
		Help: "Total number of jobs accepted by the gateway.",
	},
	[]string{"engine"},
)

func init() {
	prometheus.MustRegister(jobsSubmitted)
}

// RegisterQueueDepthMetrics exposes one pending-jobs gauge per engine,
// sampled from the queue directory at scrape time. Called once from the
// gateway binary; tests skip it to avoid double registration.
func RegisterQueueDepthMetrics(q *queue.Queue, engines []string) {
	for _, name := range engines {
		engine := name
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "voxlane_queue_depth",
				Help:        "Number of pending jobs in the engine's queue directory.",
				ConstLabels: prometheus.Labels{"engine": engine},
			},
			func() float64 {
				n, err := q.Depth(engine)
				if err != nil {
					return 0
				}
				return float64(n)
			},
		))
	}
}
