package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the kiln engine. A Metrics
// constructed from a disabled config is a safe no-op.
type Metrics struct {
	config MetricsConfig

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	artifactsExecuted *prometheus.CounterVec
	artifactDuration  *prometheus.HistogramVec
	artifactsSkipped  *prometheus.CounterVec

	cacheHitRate prometheus.Gauge

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of execution runs started",
			},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of execution runs finished",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of execution runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		artifactsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_executed_total",
				Help:      "Total number of artifacts executed",
			},
			[]string{"status"},
		),
		artifactDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "artifact_duration_seconds",
				Help:      "Duration of artifact executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		artifactsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_skipped_total",
				Help:      "Total number of artifacts reused from cache",
			},
			[]string{"reason"},
		),

		cacheHitRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_rate",
				Help:      "Skip ratio of the most recent plan (0.0 to 1.0)",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runDuration,
		m.activeRuns,
		m.artifactsExecuted,
		m.artifactDuration,
		m.artifactsSkipped,
		m.cacheHitRate,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RunStarted increments the started-runs counter.
func (m *Metrics) RunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished records a finished run with its status and duration.
func (m *Metrics) RunFinished(status string, duration time.Duration) {
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// ArtifactExecuted records one artifact execution outcome.
func (m *Metrics) ArtifactExecuted(status string, duration time.Duration) {
	if m.artifactsExecuted == nil {
		return
	}
	m.artifactsExecuted.WithLabelValues(status).Inc()
	m.artifactDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ArtifactSkipped records one cache hit with its skip reason.
func (m *Metrics) ArtifactSkipped(reason string) {
	if m.artifactsSkipped == nil {
		return
	}
	m.artifactsSkipped.WithLabelValues(reason).Inc()
}

// SetCacheHitRate records the skip ratio of the latest plan.
func (m *Metrics) SetCacheHitRate(ratio float64) {
	if m.cacheHitRate == nil {
		return
	}
	m.cacheHitRate.Set(ratio)
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The server
// runs until the process exits.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}
