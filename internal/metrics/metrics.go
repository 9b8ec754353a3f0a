// Package metrics wraps the Prometheus collectors the broker exposes,
// all built once at startup with promauto and registered against the
// default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the broker updates.
type Registry struct {
	ClientsActive          prometheus.Gauge
	PublishersActive       prometheus.Gauge
	Registrations          prometheus.Counter
	PublisherRegistrations prometheus.Counter
	PublishAccepted        prometheus.Counter
	PublishRejected        prometheus.Counter
	Relayed                prometheus.Counter
	HeartbeatsSent         prometheus.Counter
	ClientsReaped          prometheus.Counter
	UnknownRequests        prometheus.Counter
}

// NewRegistry creates and registers the broker's Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		ClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pubsub_broker_clients_active",
			Help: "Number of clients currently registered with the broker.",
		}),
		PublishersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pubsub_broker_publishers_active",
			Help: "Number of publisher records currently held across all topics.",
		}),
		Registrations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_client_registrations_total",
			Help: "Total number of client_reg requests processed.",
		}),
		PublisherRegistrations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_publisher_registrations_total",
			Help: "Total number of successful pub_reg requests processed.",
		}),
		PublishAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_publish_accepted_total",
			Help: "Total number of pub requests accepted (matched a registered publisher).",
		}),
		PublishRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_publish_rejected_total",
			Help: "Total number of pub requests rejected (no matching publisher).",
		}),
		Relayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_relayed_total",
			Help: "Total number of publications relayed to the broadcast endpoint.",
		}),
		HeartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_heartbeats_sent_total",
			Help: "Total number of heartbeat ticks broadcast.",
		}),
		ClientsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_clients_reaped_total",
			Help: "Total number of clients reaped for missed heartbeats.",
		}),
		UnknownRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pubsub_broker_unknown_requests_total",
			Help: "Total number of control requests with an unrecognized type.",
		}),
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
