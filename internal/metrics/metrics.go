package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "captioner"

// HTTP metrics, recorded by InstrumentHandler.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
	}, []string{"method", "path_pattern"})
)

// Job metrics, recorded by the pipeline.
var (
	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Caption jobs by source, mode and outcome.",
	}, []string{"source", "mode", "outcome"})

	JobWarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_warnings_total",
		Help:      "Non-fatal job warnings by kind.",
	}, []string{"kind"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages (transcribe, romanize, compose, store).",
		Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage", "provider"})

	UploadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_size_bytes",
		Help:      "Size of submitted media files.",
		Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 8), // 64KB to 1GB
	})

	CaptionSegments = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "caption_segments",
		Help:      "Number of caption entries per composed document.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Job events published to MQTT by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPResponseSize,
		JobsTotal,
		JobWarningsTotal,
		StageDuration,
		UploadSize,
		CaptionSegments,
		EventsPublishedTotal,
	)
}

// InstrumentHandler records request count, latency and response size,
// labelled by chi's route pattern rather than the raw path.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		HTTPResponseSize.WithLabelValues(r.Method, pattern).Observe(float64(ww.BytesWritten()))
	})
}
