package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/gestclasse-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	recalcDuration      *prometheus.HistogramVec
	exportTotal         *prometheus.CounterVec
	persistenceDuration *prometheus.HistogramVec

	requestCount         uint64
	requestDurationTotal uint64
	recalcCount          uint64
	exportCount          uint64
	exportFailures       uint64
	persistWrites        uint64
	persistFailures      uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	recalcDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grade_recalculation_seconds",
		Help:    "Duration of sheet recalculations",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
	}, []string{"semester"})

	exportTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_exports_total",
		Help: "Rendered exports by format and outcome",
	}, []string{"format", "result"})

	persistenceDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grade_persistence_seconds",
		Help:    "Latency of snapshot reads and writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, recalcDuration, exportTotal, persistenceDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		recalcDuration:      recalcDuration,
		exportTotal:         exportTotal,
		persistenceDuration: persistenceDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveRecalculation records one sheet recomputation.
func (m *MetricsService) ObserveRecalculation(semester int, duration time.Duration) {
	if m == nil {
		return
	}
	m.recalcDuration.WithLabelValues(fmt.Sprintf("S%d", semester)).Observe(duration.Seconds())
	atomic.AddUint64(&m.recalcCount, 1)
}

// RecordExport counts a rendered export.
func (m *MetricsService) RecordExport(format string, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.exportCount, 1)
	result := "ok"
	if err != nil {
		result = "error"
		atomic.AddUint64(&m.exportFailures, 1)
	}
	m.exportTotal.WithLabelValues(format, result).Inc()
}

// ObservePersistence records a snapshot read or write.
func (m *MetricsService) ObservePersistence(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persistenceDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	if operation == "write" {
		atomic.AddUint64(&m.persistWrites, 1)
		if err != nil {
			atomic.AddUint64(&m.persistFailures, 1)
		}
	}
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Recalculations:           atomic.LoadUint64(&m.recalcCount),
		ExportsTotal:             atomic.LoadUint64(&m.exportCount),
		ExportFailures:           atomic.LoadUint64(&m.exportFailures),
		PersistenceWrites:        atomic.LoadUint64(&m.persistWrites),
		PersistenceFailures:      atomic.LoadUint64(&m.persistFailures),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
