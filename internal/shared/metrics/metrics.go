package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeSuccess         = "success"
	OutcomeValidationError = "validation_error"
	OutcomeWriteError      = "write_error"
)

// Event publish results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posm_submissions_total",
		Help: "Submissions processed, by outcome.",
	}, []string{"outcome"})

	blobWriteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posm_blob_write_duration_seconds",
		Help:    "Time spent writing one image to the object store.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"phase"})

	storeRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posm_store_retries_total",
		Help: "Retried store operations, by operation.",
	}, []string{"op"})

	orphanCleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posm_orphan_cleanups_total",
		Help: "Deletes of blobs left behind by failed submissions, by result.",
	}, []string{"result"})

	eventPublishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posm_event_publishes_total",
		Help: "Submission events sent to the queue, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		submissionsTotal,
		blobWriteDuration,
		storeRetriesTotal,
		orphanCleanupsTotal,
		eventPublishesTotal,
	)
}

// IncSubmission counts one submission with the given outcome.
func IncSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBlobWrite records one blob write duration in seconds.
func ObserveBlobWrite(phase string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	blobWriteDuration.WithLabelValues(phase).Observe(seconds)
}

// IncStoreRetry counts one retry of op.
func IncStoreRetry(op string) {
	storeRetriesTotal.WithLabelValues(op).Inc()
}

// IncOrphanCleanup counts one orphan delete; result is "deleted" or "failed".
func IncOrphanCleanup(result string) {
	orphanCleanupsTotal.WithLabelValues(result).Inc()
}

// IncEventPublish counts one queue send with the given result.
func IncEventPublish(result string) {
	eventPublishesTotal.WithLabelValues(result).Inc()
}

// Handler exposes Registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// HTTPHandler is Handler for plain net/http muxes.
func HTTPHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
