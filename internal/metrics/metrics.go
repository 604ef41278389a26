// Package metrics exposes Prometheus instrumentation for enrollment and the
// keystore behind it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefixes every metric name.
	Namespace = "qks"

	LabelStrategy = "strategy"
	LabelOutcome  = "outcome"
	LabelMethod   = "method"
	LabelRoute    = "route"
	LabelStatus   = "status"

	OutcomeIssued   = "issued"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// KeyStoreStats is the view of the keystore the gauges read.
type KeyStoreStats interface {
	Size() int
	CertificateCount() int
}

// Metrics holds the collectors of one server. Each instance owns its
// registry, so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	enrollTotal    *prometheus.CounterVec
	enrollDuration *prometheus.HistogramVec
	httpTotal      *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the enrollment, HTTP and Go runtime collectors. When ks is
// not nil its entry and certificate counts are exported as gauges.
func New(ks KeyStoreStats) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enrollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "enroll",
			Name:      "requests_total",
			Help:      "Enrollment requests by proof-of-possession strategy and outcome",
		}, []string{LabelStrategy, LabelOutcome}),
		enrollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "enroll",
			Name:      "duration_seconds",
			Help:      "Time spent verifying and answering enrollment requests",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{LabelStrategy}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{LabelMethod, LabelRoute, LabelStatus}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelMethod, LabelRoute}),
	}

	collectors := []prometheus.Collector{
		m.enrollTotal,
		m.enrollDuration,
		m.httpTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if ks != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "keystore",
				Name:      "entries",
				Help:      "Aliases held by the keystore",
			}, func() float64 { return float64(ks.Size()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "keystore",
				Name:      "certificates",
				Help:      "Certificates in the keystore trust graph",
			}, func() float64 { return float64(ks.CertificateCount()) }),
		)
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEnrollment records one enrollment request. A nil *Metrics is a no-op.
func (m *Metrics) ObserveEnrollment(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "unknown"
	}
	m.enrollTotal.WithLabelValues(strategy, outcome).Inc()
	m.enrollDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveHTTP records one HTTP request. A nil *Metrics is a no-op.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
