package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics wraps collectors tracking ledger operation health.
type EscrowMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	open     prometheus.Gauge
}

// GatewayMetrics records REST gateway request activity.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Escrow returns the lazily-initialised metrics registry for ledger
// operations.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "skillchain",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "skillchain",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "skillchain",
				Subsystem: "escrow",
				Name:      "errors_total",
				Help:      "Count of ledger failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "skillchain",
				Subsystem: "escrow",
				Name:      "open_disputes",
				Help:      "Number of escrows currently in the disputed state.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.requests,
			escrowRegistry.latency,
			escrowRegistry.errors,
			escrowRegistry.open,
		)
	})
	return escrowRegistry
}

// Observe records the outcome and latency of a ledger operation.
func (m *EscrowMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// DisputeOpened increments the open dispute gauge.
func (m *EscrowMetrics) DisputeOpened() {
	if m == nil {
		return
	}
	m.open.Inc()
}

// DisputeClosed decrements the open dispute gauge.
func (m *EscrowMetrics) DisputeClosed() {
	if m == nil {
		return
	}
	m.open.Dec()
}

// Gateway returns the lazily-initialised metrics registry for the REST
// gateway.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "skillchain",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "skillchain",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.latency)
	})
	return gatewayRegistry
}

// Observe records a gateway request.
func (m *GatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
