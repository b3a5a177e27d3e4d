// Package metrics holds the prometheus collectors for audits, applies and the
// administrative API. A nil *Metrics records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

const namespace = "reconciler"

var histogramBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics groups every collector the process exports.
type Metrics struct {
	auditsTotal       *prometheus.CounterVec
	checksTotal       *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec
	appliesTotal      *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitHits     *prometheus.CounterVec
	callbacksTotal    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors that are
// already registered are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		auditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Audit runs by mode and exit outcome.",
		}, []string{"mode", "outcome"}),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "checks_total",
			Help:      "Check results by scope and status.",
		}, []string{"scope", "status"}),
		connectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "connector_duration_seconds",
			Help:      "Time spent auditing one connector.",
			Buckets:   histogramBuckets,
		}, []string{"connector"}),
		appliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apply",
			Name:      "changes_total",
			Help:      "Change applications by system, path and outcome.",
		}, []string{"system", "path", "outcome"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers.",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses.",
		}, []string{"route"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "callbacks_total",
			Help:      "Approval callbacks by verification outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m
	}

	m.auditsTotal = register(reg, m.auditsTotal)
	m.checksTotal = register(reg, m.checksTotal)
	m.connectorDuration = register(reg, m.connectorDuration)
	m.appliesTotal = register(reg, m.appliesTotal)
	m.requestsTotal = register(reg, m.requestsTotal)
	m.requestDuration = register(reg, m.requestDuration)
	m.rateLimitHits = register(reg, m.rateLimitHits)
	m.callbacksTotal = register(reg, m.callbacksTotal)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveAudit records one completed audit.
func (m *Metrics) ObserveAudit(report *model.AuditReport) {
	if m == nil || report == nil {
		return
	}
	m.auditsTotal.WithLabelValues(string(report.Mode), strconv.Itoa(report.Summary.ExitCode())).Inc()
	for _, check := range report.Checks {
		m.checksTotal.WithLabelValues(check.Scope, string(check.Status)).Inc()
	}
}

// ObserveConnector records how long one connector's audit took.
func (m *Metrics) ObserveConnector(name string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.connectorDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveApply records one apply result.
func (m *Metrics) ObserveApply(system string, result model.ApplyResult) {
	if m == nil {
		return
	}
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	m.appliesTotal.WithLabelValues(system, string(result.Path), outcome).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	m.requestsTotal.With(labels).Inc()
	m.requestDuration.With(labels).Observe(elapsed.Seconds())
}

// ObserveRateLimit records a rejected request.
func (m *Metrics) ObserveRateLimit(route string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(route).Inc()
}

// ObserveCallback records an approval callback outcome such as "verified" or "rejected".
func (m *Metrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(outcome).Inc()
}
