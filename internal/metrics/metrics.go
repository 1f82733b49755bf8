// Package metrics defines the Prometheus metrics exported by the encstream server.
//
// Metrics are registered on a private registry rather than the global default so that
// servers created in tests do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "encstream"

// Open results.
const (
	ResultOK       = "ok"
	ResultAuth     = "authentication"
	ResultDecrypt  = "decryption"
	ResultFormat   = "format"
	ResultReplayed = "replayed"
	ResultError    = "error"
)

// Metrics holds the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	sealed           prometheus.Counter
	opened           *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and process
// collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sealed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_sealed_total",
				Help:      "Number of envelopes sealed",
			},
		),
		opened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_opened_total",
				Help:      "Number of envelopes presented for opening, by result",
			},
			[]string{"result"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_rejected_total",
				Help:      "Number of envelopes rejected by the freshness validator, by reason",
			},
			[]string{"reason"},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Number of forwarded requests, by status class",
			},
			[]string{"status"},
		),
		upstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Duration of forwarded requests",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sealed,
		m.opened,
		m.rejected,
		m.upstreamRequests,
		m.upstreamDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EnvelopeSealed() {
	m.sealed.Inc()
}

func (m *Metrics) EnvelopeOpened(result string) {
	m.opened.WithLabelValues(result).Inc()
}

func (m *Metrics) EnvelopeRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// UpstreamRequest records a forwarded request. status 0 means the request failed before a response.
func (m *Metrics) UpstreamRequest(status int, d time.Duration) {
	m.upstreamRequests.WithLabelValues(statusClass(status)).Inc()
	m.upstreamDuration.Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status > 0:
		return "1xx"
	default:
		return "error"
	}
}
