package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts submission outcomes by rejection code,
	// with "accepted" for completed submissions.
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportintake",
		Subsystem: "submit",
		Name:      "submissions_total",
		Help:      "Total number of report submissions, labeled by result code.",
	}, []string{"result"})

	// DetectorRequestsTotal counts upstream detection calls by outcome.
	DetectorRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportintake",
		Subsystem: "detector",
		Name:      "requests_total",
		Help:      "Total number of detection API calls, labeled by outcome (ok, timeout, unreachable, error).",
	}, []string{"outcome"})

	// DetectorDurationSeconds is the wall time of a detection call.
	DetectorDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reportintake",
		Subsystem: "detector",
		Name:      "request_duration_seconds",
		Help:      "Time spent on a single detection API call.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	// CacheHitsTotal counts classifications served from the verdict cache.
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reportintake",
		Subsystem: "detector",
		Name:      "cache_hits_total",
		Help:      "Total number of classifications served from the verdict cache.",
	})

	// UploadDurationSeconds is the wall time of an asset host upload.
	UploadDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reportintake",
		Subsystem: "assets",
		Name:      "upload_duration_seconds",
		Help:      "Time spent uploading an image to the asset host.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	})
)

// Register registers service metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			DetectorRequestsTotal,
			DetectorDurationSeconds,
			CacheHitsTotal,
			UploadDurationSeconds,
		)
	})
}
