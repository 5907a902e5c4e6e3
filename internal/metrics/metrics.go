// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mobidoc"

// Metrics registers on its own registry so tests can build as many as they
// like.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveConnections    prometheus.Gauge
	RejectedHandshakes   *prometheus.CounterVec
	RoomJoins            *prometheus.CounterVec
	MessagesRelayed      prometheus.Counter
	DeliveryFailures     prometheus.Counter
	EventErrors          *prometheus.CounterVec
	ConsultationsCreated prometheus.Counter
	StatusTransitions    *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws",
			Name: "active_connections",
			Help: "Authenticated websocket connections currently open.",
		}),
		RejectedHandshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws",
			Name: "rejected_handshakes_total",
			Help: "Websocket handshakes refused by the connection gate.",
		}, []string{"reason"}),
		RoomJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rooms",
			Name: "joins_total",
			Help: "Room join attempts by result.",
		}, []string{"result"}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay",
			Name: "messages_total",
			Help: "Messages persisted and broadcast.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay",
			Name: "delivery_failures_total",
			Help: "Per-connection broadcast deliveries that were dropped.",
		}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws",
			Name: "event_errors_total",
			Help: "Scoped error events sent to clients, by inbound event.",
		}, []string{"event"}),
		ConsultationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consultations",
			Name: "created_total",
			Help: "Consultations created by the doctor matcher.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consultations",
			Name: "status_transitions_total",
			Help: "Applied consultation status changes by target status.",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http",
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveConnections,
		m.RejectedHandshakes,
		m.RoomJoins,
		m.MessagesRelayed,
		m.DeliveryFailures,
		m.EventErrors,
		m.ConsultationsCreated,
		m.StatusTransitions,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
