// Package metrics exposes Prometheus counters for sales, check-ins and the
// collaborators around them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boxoffice"

type Metrics struct {
	registry     *prometheus.Registry
	sales        *prometheus.CounterVec
	checkIns     *prometheus.CounterVec
	txRetries    prometheus.Counter
	paymentWait  *prometheus.HistogramVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_total",
			Help:      "Sale attempts by result.",
		}, []string{"result"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkins_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions re-executed after a serialization conflict.",
		}),
		paymentWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_wait_seconds",
			Help:      "Time spent waiting for payment confirmation.",
			Buckets:   []float64{1, 3, 6, 10, 20, 30, 45, 60, 90},
		}, []string{"status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sales,
		m.checkIns,
		m.txRetries,
		m.paymentWait,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) ObserveSale(result string) {
	m.sales.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCheckIn(outcome domain.ScanOutcome) {
	m.checkIns.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveTxRetry() {
	m.txRetries.Inc()
}

func (m *Metrics) ObservePaymentWait(status domain.PaymentStatus, d time.Duration) {
	m.paymentWait.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
