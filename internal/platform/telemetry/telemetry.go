// Package telemetry exposes Prometheus metrics for the HTTP surface, the
// storage port and the encounter pipeline.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "occhealth"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
}

// metricsOn returns whether metrics are enabled (defaults to true).
func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "occhealth-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

var defaultDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// TelemetryProvider owns a private registry so several providers (tests,
// CLI subcommands) never collide on metric names.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	encounters    *prometheus.CounterVec
	cascade       *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	dbPoolActive  prometheus.Gauge
	dbPoolIdle    prometheus.Gauge
	buildInfo     *prometheus.GaugeVec
	shutdownOnce  sync.Once
	done          chan struct{}
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		done:     make(chan struct{}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route", "status_code"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of HTTP requests being served.",
		}),
		encounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encounters_recorded_total",
			Help:      "Encounters persisted, by whether a diagnosis code was given.",
		}, []string{"coded"}),
		cascade: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_outcomes_total",
			Help:      "Cascade rule outcomes by rule and status.",
		}, []string{"rule", "status"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage port operations.",
			Buckets:   defaultDurationBuckets,
		}, []string{"backend", "operation", "entity"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Failed storage port operations by error class.",
		}, []string{"backend", "operation", "entity", "class"}),
		dbPoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      "active_connections",
			Help:      "Number of acquired database pool connections.",
		}),
		dbPoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      "idle_connections",
			Help:      "Number of idle database pool connections.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Constant 1, labelled with the running service version.",
		}, []string{"service", "version", "environment"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		tp.httpDuration, tp.httpInFlight,
		tp.encounters, tp.cascade,
		tp.storeDuration, tp.storeErrors,
		tp.dbPoolActive, tp.dbPoolIdle,
		tp.buildInfo,
	)
	tp.buildInfo.WithLabelValues(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment).Set(1)
	return tp
}

// Registry exposes the provider's registry for tests and extra collectors.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// Shutdown gracefully shuts down the telemetry provider.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error {
	tp.shutdownOnce.Do(func() {
		close(tp.done)
	})
	return nil
}

// Resource returns the service attributes attached to every metric set.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// EncounterRecorded counts one persisted encounter.
func (tp *TelemetryProvider) EncounterRecorded(code string) {
	coded := "true"
	if code == "" {
		coded = "false"
	}
	tp.encounters.WithLabelValues(coded).Inc()
}

// CascadeOutcome counts one cascade rule outcome.
func (tp *TelemetryProvider) CascadeOutcome(rule, status string) {
	tp.cascade.WithLabelValues(rule, status).Inc()
}

// HealthMetricsRecorder provides methods to update health-related gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.dbPoolActive.Set(float64(n))
}

func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.dbPoolIdle.Set(float64(n))
}

// PollPool samples stats every interval until ctx is done or the provider
// shuts down.
func (h *HealthMetricsRecorder) PollPool(ctx context.Context, interval time.Duration, stats func() (active, idle int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		active, idle := stats()
		h.SetDBPoolActive(active)
		h.SetDBPoolIdle(idle)
		select {
		case <-ctx.Done():
			return
		case <-h.tp.done:
			return
		case <-ticker.C:
		}
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics keyed by route pattern.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}
			tp.httpInFlight.Inc()
			defer tp.httpInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			tp.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	h := promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{Registry: tp.registry})
	return echo.WrapHandler(h)
}

// Handler is PrometheusHandler for plain net/http muxes.
func (tp *TelemetryProvider) Handler() http.Handler {
	return promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{Registry: tp.registry})
}
