package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary of the collected metrics.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	StoreCalls               uint64    `json:"storeCalls"`
	StoreFailures            uint64    `json:"storeFailures"`
	AverageStoreDurationMs   float64   `json:"averageStoreDurationMs"`
	RosterSize               int64     `json:"rosterSize"`
	VisibleSize              int64     `json:"visibleSize"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface,
// roster store calls and session transitions.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	storeDuration      *prometheus.HistogramVec
	storeTotal         *prometheus.CounterVec
	rosterSize         prometheus.Gauge
	visibleSize        prometheus.Gauge
	rosterPushes       prometheus.Counter
	sessionTransitions *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	storeCount           uint64
	storeFailureCount    uint64
	storeDurationTotal   uint64
	rosterSizeValue      int64
	visibleSizeValue     int64
}

// NewMetricsService registers the roster collectors.
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

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_store_duration_seconds",
		Help:    "Duration of roster store calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	storeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_store_calls_total",
		Help: "Roster store calls by operation and outcome",
	}, []string{"op", "outcome"})

	rosterSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roster_canonical_students",
		Help: "Students in the canonical roster of the active session",
	})

	visibleSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roster_visible_students",
		Help: "Students in the filtered and sorted view",
	})

	rosterPushes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roster_snapshot_pushes_total",
		Help: "Snapshots received from live store subscriptions",
	})

	sessionTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"state"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, storeDuration, storeTotal, rosterSize, visibleSize, rosterPushes, sessionTransitions, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		storeDuration:      storeDuration,
		storeTotal:         storeTotal,
		rosterSize:         rosterSize,
		visibleSize:        visibleSize,
		rosterPushes:       rosterPushes,
		sessionTransitions: sessionTransitions,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
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

// ObserveStoreCall records one roster store call.
func (m *MetricsService) ObserveStoreCall(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		atomic.AddUint64(&m.storeFailureCount, 1)
	}
	m.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
	m.storeTotal.WithLabelValues(op, outcome).Inc()
	atomic.AddUint64(&m.storeCount, 1)
	atomic.AddUint64(&m.storeDurationTotal, uint64(duration.Nanoseconds()))
}

// SetRosterSizes updates the canonical and visible roster gauges.
func (m *MetricsService) SetRosterSizes(canonical, visible int) {
	if m == nil {
		return
	}
	m.rosterSize.Set(float64(canonical))
	m.visibleSize.Set(float64(visible))
	atomic.StoreInt64(&m.rosterSizeValue, int64(canonical))
	atomic.StoreInt64(&m.visibleSizeValue, int64(visible))
}

// RecordSnapshotPush counts a snapshot delivered by a live subscription.
func (m *MetricsService) RecordSnapshotPush() {
	if m == nil {
		return
	}
	m.rosterPushes.Inc()
}

// RecordSessionTransition counts a session state change.
func (m *MetricsService) RecordSessionTransition(state string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(state).Inc()
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	storeCalls := atomic.LoadUint64(&m.storeCount)
	storeDuration := atomic.LoadUint64(&m.storeDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	var avgStoreMs float64
	if storeCalls > 0 {
		avgStoreMs = float64(storeDuration) / float64(storeCalls) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		StoreCalls:               storeCalls,
		StoreFailures:            atomic.LoadUint64(&m.storeFailureCount),
		AverageStoreDurationMs:   avgStoreMs,
		RosterSize:               atomic.LoadInt64(&m.rosterSizeValue),
		VisibleSize:              atomic.LoadInt64(&m.visibleSizeValue),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
