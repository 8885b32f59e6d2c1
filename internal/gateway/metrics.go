package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus instruments on a private registry
// so tests can run many gateways without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	contextTokens   prometheus.Histogram
	degradedTurns   prometheus.Counter
	summariesMade   prometheus.Counter
}

// NewMetrics creates and registers the gateway instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engram",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engram",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		contextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engram",
			Subsystem: "context",
			Name:      "used_tokens",
			Help:      "Tokens spent per assembled context.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		degradedTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engram",
			Subsystem: "context",
			Name:      "degraded_total",
			Help:      "Turns served without retrieval after a retrieval failure.",
		}),
		summariesMade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engram",
			Subsystem: "compress",
			Name:      "summaries_total",
			Help:      "Summaries created through the API.",
		}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.contextTokens, m.degradedTurns, m.summariesMade)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
