package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	jobSubmissionsTotal *prometheus.CounterVec
	jobResolutionsTotal *prometheus.CounterVec
	uploadBytes         *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analysis",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "analysis",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "analysis",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	jobSubmissionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analysis",
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Total job submissions by outcome.",
		},
		[]string{"service", "status"},
	)
	jobResolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analysis",
			Subsystem: "jobs",
			Name:      "resolutions_total",
			Help:      "Total job status lookups by resolved state.",
		},
		[]string{"service", "state"},
	)
	uploadBytes := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "analysis",
			Subsystem: "uploads",
			Name:      "size_bytes",
			Help:      "Size of accepted data file uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		jobSubmissionsTotal,
		jobResolutionsTotal,
		uploadBytes,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		jobSubmissionsTotal: jobSubmissionsTotal,
		jobResolutionsTotal: jobResolutionsTotal,
		uploadBytes:         uploadBytes,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/result/"):
		return "/result/{job_id}/"
	case strings.HasPrefix(path, "/api/v1/jobs/"):
		return "/api/v1/jobs/{job_id}"
	case strings.HasPrefix(path, "/media/"):
		return "/media/{path}"
	default:
		return path
	}
}

// RecordJobSubmission counts an upload attempt as accepted, rejected or unavailable.
func (m *HTTPServerMetrics) RecordJobSubmission(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.jobSubmissionsTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordJobResolution(service, state string) {
	if state == "" {
		state = "unknown"
	}
	m.jobResolutionsTotal.WithLabelValues(service, state).Inc()
}

func (m *HTTPServerMetrics) ObserveUploadSize(service string, size int64) {
	if size < 0 {
		return
	}
	m.uploadBytes.WithLabelValues(service).Observe(float64(size))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
