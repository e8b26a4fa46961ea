// Package metrics owns the Prometheus registry of the service. Labels are
// kept to bounded sets (method, route pattern, status, backend, outcome).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics holds every collector the service exports.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	commitAttempts *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	searchDocs     prometheus.Gauge
	sseClients     prometheus.Gauge
	postEvents     *prometheus.CounterVec
}

// New returns a fresh registry with the Go and process collectors and the
// service metrics registered.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		commitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_commit_attempts_total",
			Help: "Commit attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_read_cache_lookups_total",
			Help: "Read cache lookups by result",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the rate limiter by reason",
		}, []string{"reason"}),
		searchDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkpost_search_documents",
			Help: "Number of posts in the search index",
		}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkpost_sse_clients",
			Help: "Connected live event clients",
		}),
		postEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkpost_post_events_total",
			Help: "Post changes by kind and origin (api, watcher)",
		}, []string{"kind", "origin"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.commitAttempts,
		m.cacheLookups,
		m.rateLimited,
		m.searchDocs,
		m.sseClients,
		m.postEvents,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// CommitAttempt implements gitstore.Observer.
func (m *ServerMetrics) CommitAttempt(backend, outcome string) {
	m.commitAttempts.WithLabelValues(backend, outcome).Inc()
}

// CacheLookup implements readcache.Observer.
func (m *ServerMetrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncRateLimited(reason string) {
	m.rateLimited.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) SetSearchDocuments(n int) {
	m.searchDocs.Set(float64(n))
}

func (m *ServerMetrics) SetSSEClients(n int) {
	m.sseClients.Set(float64(n))
}

func (m *ServerMetrics) IncPostEvent(kind, origin string) {
	m.postEvents.WithLabelValues(kind, origin).Inc()
}
