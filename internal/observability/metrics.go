package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the artifact service
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Bundling metrics
	bundlesTotal       *prometheus.CounterVec
	bundleDuration     *prometheus.HistogramVec
	bundleSize         prometheus.Histogram
	bundleStage        *prometheus.HistogramVec
	bundleDependencies prometheus.Histogram

	// Cache metrics
	cacheLookupsTotal *prometheus.CounterVec

	// CDN metrics
	cdnProbesTotal   *prometheus.CounterVec
	cdnProbeDuration *prometheus.HistogramVec

	// Storage metrics
	storageBytesTotal        *prometheus.CounterVec
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec

	// Rate limiting metrics
	rateLimitHitsTotal *prometheus.CounterVec

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry creates metrics registered on reg and exposed from g
func NewMetricsWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: g,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifacts_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifacts_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		bundlesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_bundles_total",
				Help: "Total number of bundle requests by outcome",
			},
			[]string{"outcome", "mode", "cache"},
		),
		bundleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifacts_bundle_duration_seconds",
				Help:    "End-to-end bundle latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"cache"},
		),
		bundleSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "artifacts_bundle_size_bytes",
				Help:    "Size of assembled bundle documents",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		bundleStage: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifacts_bundle_stage_duration_seconds",
				Help:    "Latency of individual pipeline stages",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
			},
			[]string{"stage"},
		),
		bundleDependencies: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "artifacts_bundle_dependencies",
				Help:    "Number of declared dependencies per bundle",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),

		cacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_cache_lookups_total",
				Help: "Total number of bundle cache lookups",
			},
			[]string{"result"},
		),

		cdnProbesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_cdn_probes_total",
				Help: "Total number of CDN availability probes",
			},
			[]string{"provider", "result"},
		),
		cdnProbeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifacts_cdn_probe_duration_seconds",
				Help:    "CDN availability probe latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5},
			},
			[]string{"provider"},
		),

		storageBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_storage_bytes_total",
				Help: "Total bytes transferred to object storage",
			},
			[]string{"operation", "bucket"},
		),
		storageOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "bucket", "status"},
		),
		storageOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifacts_storage_operation_duration_seconds",
				Help:    "Object storage operation latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation", "bucket"},
		),

		rateLimitHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_rate_limit_hits_total",
				Help: "Total number of rate limited bundle requests",
			},
			[]string{"caller"},
		),

		systemUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifacts_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Path())
		method := c.Method()

		err := c.Next()

		status := statusClass(c.Response().StatusCode())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordBundle records a finished bundle request. outcome is "success" or an
// error kind.
func (m *Metrics) RecordBundle(outcome string, esm, cacheHit bool, duration time.Duration, size int64, deps int) {
	mode := "shim"
	if esm {
		mode = "esm"
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}

	m.bundlesTotal.WithLabelValues(outcome, mode, cache).Inc()
	if outcome != "success" {
		return
	}
	m.bundleDuration.WithLabelValues(cache).Observe(duration.Seconds())
	m.bundleDependencies.Observe(float64(deps))
	if !cacheHit {
		m.bundleSize.Observe(float64(size))
	}
}

// RecordStage records the latency of one pipeline stage
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.bundleStage.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache lookup outcome
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCDNProbe records one CDN availability probe
func (m *Metrics) RecordCDNProbe(provider string, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.cdnProbesTotal.WithLabelValues(provider, result).Inc()
	m.cdnProbeDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, bucket string, bytes int64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.storageOperationsTotal.WithLabelValues(operation, bucket, status).Inc()
	m.storageBytesTotal.WithLabelValues(operation, bucket).Add(float64(bytes))
	m.storageOperationDuration.WithLabelValues(operation, bucket).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rate limited request; caller is "user" or "guest"
func (m *Metrics) RecordRateLimitHit(caller string) {
	m.rateLimitHitsTotal.WithLabelValues(caller).Inc()
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// normalizePath keeps label cardinality bounded
func normalizePath(path string) string {
	if len(path) > 50 {
		return "long_path"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
