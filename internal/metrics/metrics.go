// Package metrics exposes Prometheus metrics for the coherence monitor.
package metrics

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/coherence/internal/models"
)

// Record outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Collector holds all Prometheus metrics for one monitor instance.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Signals        *prometheus.CounterVec
	MinCutDuration *prometheus.HistogramVec
	MinCutValue    prometheus.Gauge
	Trials         prometheus.Histogram
	Events         *prometheus.CounterVec
	Records        *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
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
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Coherence signals computed, by algorithm",
		}, []string{"algorithm"}),
		MinCutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mincut_duration_seconds",
			Help:      "Minimum cut computation time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"algorithm"}),
		MinCutValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_cut_value",
			Help:      "Minimum cut value of the latest signal; NaN when undefined",
		}),
		Trials: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mincut_trials",
			Help:      "Randomized trials completed per approximate computation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Coherence events detected, by type",
		}, []string{"type"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records seen by the window controller, by outcome",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.Signals, c.MinCutDuration, c.MinCutValue, c.Trials,
		c.Events, c.Records,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSignal records one computed signal.
func (c *Collector) ObserveSignal(sig models.CoherenceSignal, elapsed time.Duration) {
	algorithm := "approximate"
	if sig.IsExact {
		algorithm = "exact"
	} else {
		c.Trials.Observe(float64(sig.Trials))
	}
	c.Signals.WithLabelValues(algorithm).Inc()
	c.MinCutDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
	if math.IsInf(sig.MinCutValue, 0) {
		c.MinCutValue.Set(math.NaN())
	} else {
		c.MinCutValue.Set(sig.MinCutValue)
	}
}

// ObserveEvents counts detected events.
func (c *Collector) ObserveEvents(events []models.CoherenceEvent) {
	for _, ev := range events {
		c.Events.WithLabelValues(ev.Type.String()).Inc()
	}
}

// ObserveRecords counts n records with the given outcome.
func (c *Collector) ObserveRecords(outcome string, n int) {
	if n > 0 {
		c.Records.WithLabelValues(outcome).Add(float64(n))
	}
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
