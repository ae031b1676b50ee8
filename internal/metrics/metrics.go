// Package metrics defines custom Prometheus metrics for EdgeLUN.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgelun_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgelun_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Backend REST metrics.
var (
	// BackendRequestsTotal counts management REST calls by method and outcome.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgelun_backend_requests_total",
			Help: "Management REST calls to the storage cluster",
		},
		[]string{"method", "status"},
	)

	// BackendRequestDuration observes management REST call latency in seconds.
	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgelun_backend_request_duration_seconds",
			Help:    "Management REST call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Volume lifecycle metrics.
var (
	// VolumeOperationsTotal counts lifecycle operations by operation and status.
	VolumeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgelun_volume_operations_total",
			Help: "Volume lifecycle operations by type",
		},
		[]string{"operation", "status"},
	)

	// LunsInUse is a gauge tracking mapped LUN numbers in the bucket.
	LunsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgelun_luns_in_use",
			Help: "LUN numbers currently mapped in the bucket name map",
		},
	)
)

// Register registers all EdgeLUN metrics with the default Prometheus
// registry. It is safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			BackendRequestsTotal,
			BackendRequestDuration,
			VolumeOperationsTotal,
			LunsInUse,
		)
	})
}

// RecordOperation increments the lifecycle operation counter with an "ok" or
// "error" status derived from err.
func RecordOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	VolumeOperationsTotal.WithLabelValues(operation, status).Inc()
}
