package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	Requests     *prometheus.CounterVec
	LatencyMS    *prometheus.HistogramVec
	Reservations *prometheus.CounterVec
	Checkouts    *prometheus.CounterVec
	Payments     *prometheus.CounterVec
	Cancels      *prometheus.CounterVec
	Cache        *prometheus.CounterVec
	OutboxSent   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "operations_total",
			Help:      "Stock ledger operations by kind and result.",
		}, []string{"op", "result"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "attempts_total",
			Help:      "Payment attempts by result.",
		}, []string{"result"}),
		Cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancellations_total",
			Help:      "Order cancellations by result.",
		}, []string{"result"}),
		Cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart_cache",
			Name:      "lookups_total",
			Help:      "Cart cache lookups by outcome.",
		}, []string{"outcome"}),
		OutboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to the broker.",
		}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Reservations, m.Checkouts, m.Payments, m.Cancels, m.Cache, m.OutboxSent)
	return m
}

func (m *Metrics) ObserveRequest(handler, status string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, status).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(ms)
}

func (m *Metrics) StockOp(op, result string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) Payment(result string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(result).Inc()
}

func (m *Metrics) Cancel(result string) {
	if m == nil {
		return
	}
	m.Cancels.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.Cache.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Published(n int) {
	if m == nil {
		return
	}
	m.OutboxSent.Add(float64(n))
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
