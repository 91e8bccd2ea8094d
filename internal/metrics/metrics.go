// Package metrics implements the Metrics & Health component (C9):
// Prometheus counters/gauges and the /metrics handler. The JSON access log
// line is written by the api package's access-log middleware.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pository/pository/internal/events"
)

// Registry bundles every metric this service exposes under a private
// prometheus.Registry so repeated construction in tests never panics on
// duplicate registration.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestsByStatus *prometheus.CounterVec
	ErrorsTotal      prometheus.Counter
	UploadBytes      prometheus.Counter
	DownloadBytes    prometheus.Counter
	RequestLatencyMs prometheus.Histogram

	StorageBytesTotal  prometheus.Gauge
	PackagesTotal      prometheus.Gauge
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pository_requests_total",
			Help: "Total HTTP requests handled, by method.",
		}, []string{"method"}),
		RequestsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pository_requests_by_status_total",
			Help: "Total HTTP requests handled, by response status.",
		}, []string{"status"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pository_errors_total",
			Help: "Total requests that completed with a 4xx or 5xx status.",
		}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pository_upload_bytes_total",
			Help: "Total bytes accepted via package uploads.",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pository_download_bytes_total",
			Help: "Total bytes served via package and pool downloads.",
		}),
		RequestLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pository_request_latency_ms",
			Help:    "Request latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		StorageBytesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pository_storage_bytes_total",
			Help: "Total bytes occupied by stored package artifacts.",
		}),
		PackagesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pository_packages_total",
			Help: "Total number of stored package artifacts.",
		}),
	}
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordRequest updates request counters and the latency histogram for a
// completed request.
func (r *Registry) RecordRequest(method string, status int, duration time.Duration) {
	r.RequestsTotal.WithLabelValues(method).Inc()
	r.RequestsByStatus.WithLabelValues(statusLabel(status)).Inc()
	if status >= 400 {
		r.ErrorsTotal.Inc()
	}
	r.RequestLatencyMs.Observe(float64(duration.Milliseconds()))
}

// SetStorageStats refreshes the gauges derived from the Storage Engine.
func (r *Registry) SetStorageStats(totalBytes int64, packageCount int) {
	r.StorageBytesTotal.Set(float64(totalBytes))
	r.PackagesTotal.Set(float64(packageCount))
}

// SubscribeStorageStats registers a handler on bus that recomputes the
// storage gauges via statsFn whenever the Storage Engine emits
// PackageStored or PackageDeleted, giving §9's suggested cache-invalidation
// hook a real subscriber instead of the /api/v1/stats poll alone.
// Best-effort: a statsFn error leaves the gauges at their last known value.
func (r *Registry) SubscribeStorageStats(bus *events.Bus, statsFn func() (int64, int, error)) {
	bus.On(func(ev events.Event) {
		switch ev.(type) {
		case events.PackageStored, events.PackageDeleted:
		default:
			return
		}
		totalBytes, packageCount, err := statsFn()
		if err != nil {
			return
		}
		r.SetStorageStats(totalBytes, packageCount)
	})
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
