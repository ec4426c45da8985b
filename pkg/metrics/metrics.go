package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "widerow"

// Collector records what the HTTP layer and page reads observe.
type Collector interface {
	ObserveRequest(method, route string, status int, took time.Duration)
	ObservePage(row string, columns int, absent bool)
}

// Metrics is a Collector backed by its own prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	pages    *prometheus.CounterVec
	columns  prometheus.Counter
}

var _ Collector = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_served_total",
			Help:      "Column pages served, split by whether the row existed.",
		}, []string{"row_state"}),
		columns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_served_total",
			Help:      "Columns returned in pages.",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.pages, m.columns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) ObservePage(_ string, columns int, absent bool) {
	state := "present"
	if absent {
		state = "absent"
	}
	m.pages.WithLabelValues(state).Inc()
	m.columns.Add(float64(columns))
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveRequest(string, string, int, time.Duration) {}
func (Nop) ObservePage(string, int, bool)                     {}
