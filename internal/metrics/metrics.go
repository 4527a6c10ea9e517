package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clinic"

// ReservationMetrics counts lifecycle operations by outcome.
type ReservationMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	settled    prometheus.Counter
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	m := &ReservationMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "operation_duration_seconds",
			Help:      "Latency of lifecycle operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		settled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "settled_completed_total",
			Help:      "Elapsed reservations persisted as completed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operations, m.latency, m.settled)
	return m
}

func (m *ReservationMetrics) Observe(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *ReservationMetrics) Settled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.settled.Add(float64(n))
}

// OutboxMetrics tracks event delivery.
type OutboxMetrics struct {
	delivered prometheus.Counter
	failed    prometheus.Counter
	lag       prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Events published downstream",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failed_total",
			Help:      "Event publish attempts that failed",
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivery_lag_seconds",
			Help:      "Time between event creation and publish",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 15, 60, 300},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.delivered, m.failed, m.lag)
	return m
}

func (m *OutboxMetrics) Delivered(lag time.Duration) {
	if m == nil {
		return
	}
	m.delivered.Inc()
	m.lag.Observe(lag.Seconds())
}

func (m *OutboxMetrics) Failed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

// HTTPMetrics counts requests per route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) Observe(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
