package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the order-flow counters. A nil *Metrics records nothing.
type Metrics struct {
	ordersCreated   *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	momoIPN         *prometheus.CounterVec
	sweepCancelled  prometheus.Counter
	gatherer        prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created, by payment method.",
		}, []string{"payment_method"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_cancelled_total",
			Help: "Orders cancelled, by cancellation source.",
		}, []string{"reason"}),
		momoIPN: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "momo_ipn_total",
			Help: "MoMo webhook deliveries, by outcome.",
		}, []string{"outcome"}),
		sweepCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "momo_sweep_cancelled_total",
			Help: "Unpaid MoMo orders cancelled by the timeout sweep.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.ordersCreated, m.ordersCancelled, m.momoIPN, m.sweepCancelled)
	return m
}

func (m *Metrics) OrderCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(paymentMethod).Inc()
}

func (m *Metrics) OrderCancelled(reason string) {
	if m == nil {
		return
	}
	m.ordersCancelled.WithLabelValues(reason).Inc()
}

func (m *Metrics) IPN(outcome string) {
	if m == nil {
		return
	}
	m.momoIPN.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepCancelled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepCancelled.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
