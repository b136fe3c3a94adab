package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	UploadsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "resumes_uploaded_total", Help: "Accepted resume uploads"}, []string{"file_type"})
	UploadRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "resumes_upload_rejects_total", Help: "Uploads rejected by validation"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "resumes_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	StageSuccess     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_stage_completed_total", Help: "Stage tasks completed successfully"}, []string{"kind"})
	StageRetries     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_stage_retries_total", Help: "Stage tasks scheduled for retry"}, []string{"kind"})
	StageDeadLetter  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_stage_dead_letter_total", Help: "Stage tasks moved to DLQ"}, []string{"kind"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Ready queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_tasks_inflight", Help: "Stage tasks currently leased"})
	BreakerState     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pipeline_breaker_state", Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)"}, []string{"dependency"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			UploadsTotal,
			UploadRejects,
			RateLimitRejects,
			StageSuccess,
			StageRetries,
			StageDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
			BreakerState,
		)
	})
	return promhttp.Handler()
}
