// Package metrics registers the Prometheus collectors shared by the API client, token manager and HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every kcx collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// APIRequests counts outbound platform API calls by endpoint and outcome.
	APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kcx",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Outbound platform API calls.",
	}, []string{"method", "endpoint", "status"})

	// APIDuration observes outbound call latency.
	APIDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kcx",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Outbound platform API call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	// TokenRefreshes counts refresh exchanges by result.
	TokenRefreshes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kcx",
		Subsystem: "token",
		Name:      "refreshes_total",
		Help:      "Access token refresh attempts.",
	}, []string{"result"})

	// MessagesSent counts campaign sends by result.
	MessagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kcx",
		Subsystem: "blast",
		Name:      "messages_total",
		Help:      "Bulk dispatch sends.",
	}, []string{"result"})

	// HTTPRequests counts inbound requests by route and status.
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kcx",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPDuration observes inbound request latency.
	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kcx",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Inbound HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
