// services/payment-service/internal/metrics/metrics.prometheus.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/breaker"
	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

const namespace = "payments"

// Prometheus is the payment.Metrics sink. It owns its registry so tests and multiple
// instances in one process do not collide on the default one.
type Prometheus struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	breaker    *prometheus.GaugeVec
	reconciled *prometheus.CounterVec
}

var _ payment.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Payment use cases by operation, transaction type, resulting status and tenant.",
		}, []string{"operation", "tx_type", "status", "tenant"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of a payment use case, retries and backoff included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_transactions_total",
			Help:      "Stuck transactions examined by the reconciliation sweep.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.operations,
		m.latency,
		m.breaker,
		m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) IncOperation(operation, txType, status, tenant string) {
	m.operations.WithLabelValues(operation, txType, status, tenant).Inc()
}

func (m *Prometheus) ObserveLatency(operation string, d time.Duration) {
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

// BreakerListener plugs into breaker.WithStateListener.
func (m *Prometheus) BreakerListener(name string, _, to breaker.State) {
	m.breaker.WithLabelValues(name).Set(float64(to))
}

// IncReconciled counts one reconciliation attempt; result is "resolved" or "error".
func (m *Prometheus) IncReconciled(result string) {
	m.reconciled.WithLabelValues(result).Inc()
}

// Registry exposes the registry for tests and extra collectors.
func (m *Prometheus) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
