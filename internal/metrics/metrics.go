// Package metrics exposes Prometheus instruments for the realtime core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument. A nil *Metrics is valid and records nothing, which keeps
// call sites free of nil checks in tests.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.ConnectionOpened("tasks")
type Metrics struct {
	// ActiveConnections tracks open WebSocket connections.
	// Labels: path (route the connection arrived on)
	ActiveConnections *prometheus.GaugeVec

	// RejectedConnections counts handshakes turned away.
	// Labels: path, reason (unauthenticated|forbidden|connection_limit|internal error)
	RejectedConnections *prometheus.CounterVec

	// EventsPublished counts fan-out calls.
	// Labels: topic, action
	EventsPublished *prometheus.CounterVec

	// DeliveryFailures counts per-member enqueue failures during fan-out.
	// Labels: topic
	DeliveryFailures *prometheus.CounterVec

	// ActionsHandled counts inbound actions by outcome.
	// Labels: action, result (ok|error)
	ActionsHandled *prometheus.CounterVec

	// OnlineUsers is the number of users with at least one task connection.
	OnlineUsers prometheus.Gauge

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskpulse",
			Name:      "active_connections",
			Help:      "Open WebSocket connections by path.",
		}, []string{"path"}),
		RejectedConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskpulse",
			Name:      "rejected_connections_total",
			Help:      "Connections closed during the handshake.",
		}, []string{"path", "reason"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskpulse",
			Name:      "events_published_total",
			Help:      "Events fanned out to a topic.",
		}, []string{"topic", "action"}),
		DeliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskpulse",
			Name:      "delivery_failures_total",
			Help:      "Per-connection delivery failures during fan-out.",
		}, []string{"topic"}),
		ActionsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskpulse",
			Name:      "actions_handled_total",
			Help:      "Inbound client actions by result.",
		}, []string{"action", "result"}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskpulse",
			Name:      "online_users",
			Help:      "Users with at least one open task connection.",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened(path string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(path).Inc()
}

func (m *Metrics) ConnectionClosed(path string) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(path).Dec()
}

func (m *Metrics) ConnectionRejected(path, reason string) {
	if m == nil {
		return
	}
	m.RejectedConnections.WithLabelValues(path, reason).Inc()
}

func (m *Metrics) EventPublished(topic, action string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic, action).Inc()
}

func (m *Metrics) DeliveryFailed(topic string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(topic).Inc()
}

func (m *Metrics) ActionHandled(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ActionsHandled.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}
