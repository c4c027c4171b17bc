package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every gateway collector; it is served on /metrics
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "HTTP requests handled, by route and status code",
	}, []string{"method", "route", "status"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request latency, by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Failures returned to callers, by error kind",
	}, []string{"kind"})

	OpenSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_open_subscriptions",
		Help: "Streaming subscriptions currently open",
	})

	StreamMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_stream_messages_total",
		Help: "Stream messages delivered to sinks, by channel",
	}, []string{"channel"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestsTotal,
		RequestDuration,
		ErrorsTotal,
		OpenSubscriptions,
		StreamMessagesTotal,
	)
}

// Handler serves the gateway registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
