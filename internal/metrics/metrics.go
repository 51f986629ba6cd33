// Package metrics holds the service's Prometheus instruments on a private
// registry, exposed via the /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	// BookingsTotal counts booking attempts by outcome: created, or the
	// rejection kind.
	BookingsTotal *prometheus.CounterVec

	// TransitionsTotal counts applied lifecycle transitions by name.
	TransitionsTotal *prometheus.CounterVec

	// TravelFallbacks counts oracle failures answered by the
	// great-circle fallback.
	TravelFallbacks prometheus.Counter

	// SLABreaches counts schedules the sweeper found past their SLA.
	SLABreaches prometheus.Counter

	// HTTPRequests counts requests by method, route and status class.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes request latency per route.
	HTTPDuration *prometheus.HistogramVec
}

// New builds the instrument set on a fresh registry with the standard Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		BookingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_bookings_total",
			Help: "Booking attempts by outcome.",
		}, []string{"outcome"}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_transitions_total",
			Help: "Applied lifecycle transitions by name.",
		}, []string{"transition"}),
		TravelFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_travel_fallbacks_total",
			Help: "Travel oracle failures answered by the distance fallback.",
		}),
		SLABreaches: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_sla_breaches_total",
			Help: "Schedules found past their service SLA.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchd_http_request_duration_seconds",
			Help:    "HTTP request latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
