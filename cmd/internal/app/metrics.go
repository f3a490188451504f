package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	RoomsCreated     prometheus.Counter
	Claims           *prometheus.CounterVec
	MessagesAppended prometheus.Counter
	EventsDropped    prometheus.Counter
	WSSubscribers    prometheus.Gauge
}

// NewMetrics builds and registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Name:      "rooms_created_total",
			Help:      "Rooms created via the REST surface.",
		}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome (won, lost, rejected, error).",
		}, []string{"outcome"}),
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Name:      "messages_appended_total",
			Help:      "Messages appended to room logs.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tripdesk",
			Name:      "events_dropped_total",
			Help:      "Events dropped due to subscriber backpressure.",
		}),
		WSSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tripdesk",
			Name:      "ws_subscribers",
			Help:      "Currently connected event-stream subscribers.",
		}),
	}

	reg.MustRegister(m.RoomsCreated, m.Claims, m.MessagesAppended, m.EventsDropped, m.WSSubscribers)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
