// Package metrics exposes Prometheus collectors for mutation outcomes,
// resolver calls and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "folio"

// Collector holds every metric the server exports, on its own registry.
type Collector struct {
	registry *prometheus.Registry

	SyncOutcomes *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec

	ResolverCalls    *prometheus.CounterVec
	ResolverDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Collector with Go runtime and process collectors included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		SyncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_outcomes_total",
			Help:      "Mutations by origin and outcome (committed, rolled_back, rejected, busy, superseded)",
		}, []string{"origin", "outcome"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Time from snapshot to commit or rollback",
			Buckets:   prometheus.DefBuckets,
		}, []string{"origin"}),
		ResolverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_calls_total",
			Help:      "Resolver calls by backend and result (ok, invalid, transport)",
		}, []string{"backend", "result"}),
		ResolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_duration_seconds",
			Help:      "Resolver round-trip time",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"backend"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolver_breaker_open",
			Help:      "1 while the resolver circuit breaker is open",
		}, []string{"backend"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.SyncOutcomes, c.SyncDuration,
		c.ResolverCalls, c.ResolverDuration, c.BreakerState,
		c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveSync records one mutation outcome.
func (c *Collector) ObserveSync(origin, outcome string, elapsed time.Duration) {
	c.SyncOutcomes.WithLabelValues(origin, outcome).Inc()
	if outcome == "committed" || outcome == "rolled_back" {
		c.SyncDuration.WithLabelValues(origin).Observe(elapsed.Seconds())
	}
}

// ObserveResolve records one resolver call.
func (c *Collector) ObserveResolve(backend, result string, elapsed time.Duration) {
	c.ResolverCalls.WithLabelValues(backend, result).Inc()
	c.ResolverDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// BreakerChanged returns a breaker state callback for backend.
func (c *Collector) BreakerChanged(backend string) func(from, to string) {
	return func(_, to string) {
		v := 0.0
		if to == "open" {
			v = 1
		}
		c.BreakerState.WithLabelValues(backend).Set(v)
	}
}

// Middleware counts requests by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
