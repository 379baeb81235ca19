// Package metrics holds the Prometheus collectors of the storefront.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	Requests            *prometheus.CounterVec
	LatencyMS           *prometheus.HistogramVec
	Checkouts           *prometheus.CounterVec
	ReservationFailures *prometheus.CounterVec
	OrderTransitions    *prometheus.CounterVec
	OutboxPublished     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A *prometheus.Registry is also used
// to serve /metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		ReservationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservation_failures_total",
			Help:      "Refused or failed stock reservations by reason.",
		}, []string{"reason"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the poller, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Requests, m.LatencyMS, m.Checkouts, m.ReservationFailures, m.OrderTransitions, m.OutboxPublished)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(method, route).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) CheckoutResult(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) ReservationFailed(reason string) {
	if m == nil {
		return
	}
	m.ReservationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) OutboxResult(result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}
