package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, lifecycle batches and
// the side-effect worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	batchItemsTotal        *prometheus.CounterVec
	batchDuration          *prometheus.HistogramVec
	planLookupFailureTotal prometheus.Counter
	sideEffectsSentTotal   *prometheus.CounterVec
	sideEffectsFailedTotal *prometheus.CounterVec
	sideEffectSendDuration *prometheus.HistogramVec
	workerInflight         *prometheus.GaugeVec
	retryScheduledTotal    *prometheus.CounterVec
	workspacesActive       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "delivery_tracker",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "batch_items_total",
				Help:      "Delivery lines submitted to lifecycle actions by action and result.",
			},
			[]string{"action", "result"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "delivery_tracker",
				Name:      "batch_duration_seconds",
				Help:      "Lifecycle batch duration in seconds grouped by action.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"action"},
		),
		planLookupFailureTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "plan_lookup_failures_total",
				Help:      "Plan expiry lookups that failed during pack adjustment.",
			},
		),
		sideEffectsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "side_effects_sent_total",
				Help:      "Total number of side effects delivered successfully.",
			},
			[]string{"kind"},
		),
		sideEffectsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "side_effects_failed_total",
				Help:      "Total number of side effects that ended in failed state.",
			},
			[]string{"kind", "reason"},
		),
		sideEffectSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "delivery_tracker",
				Name:      "side_effect_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by kind.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "delivery_tracker",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by kind.",
			},
			[]string{"kind"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "delivery_tracker",
				Name:      "retry_scheduled_total",
				Help:      "Total number of side effects scheduled for retry.",
			},
			[]string{"kind"},
		),
		workspacesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "delivery_tracker",
				Name:      "workspaces_active",
				Help:      "Number of open tracking workspaces.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchItemsTotal,
		m.batchDuration,
		m.planLookupFailureTotal,
		m.sideEffectsSentTotal,
		m.sideEffectsFailedTotal,
		m.sideEffectSendDuration,
		m.workerInflight,
		m.retryScheduledTotal,
		m.workspacesActive,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

// ObserveBatch records one lifecycle batch: its per-item results and how long
// the whole submission took.
func (m *Metrics) ObserveBatch(action string, succeeded int, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	actionLabel := normalizeLabel(action)
	if succeeded > 0 {
		m.batchItemsTotal.WithLabelValues(actionLabel, "succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		m.batchItemsTotal.WithLabelValues(actionLabel, "failed").Add(float64(failed))
	}
	m.batchDuration.WithLabelValues(actionLabel).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) AddPlanLookupFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.planLookupFailureTotal.Add(float64(n))
}

func (m *Metrics) IncSideEffectSent(kind string) {
	if m == nil {
		return
	}
	m.sideEffectsSentTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncSideEffectFailed(kind string, reason string) {
	if m == nil {
		return
	}
	m.sideEffectsFailedTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveSideEffectSendDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sideEffectSendDuration.WithLabelValues(normalizeLabel(kind)).Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecWorkerInFlight(kind string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(kind)).Dec()
}

func (m *Metrics) IncRetryScheduled(kind string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) SetWorkspacesActive(n int) {
	if m == nil {
		return
	}
	m.workspacesActive.Set(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func nonNegativeSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
