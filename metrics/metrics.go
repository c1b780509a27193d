// Package metrics holds the Prometheus collectors of the lightshow server.
//
// All methods are safe on a nil *Metrics, so components built without
// metrics need no special casing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lightshow"

// Event results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics collects connection, session and event statistics.
type Metrics struct {
	connectionsActive  prometheus.Gauge
	sessionsActive     prometheus.Gauge
	eventsTotal        *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	broadcastsTotal    *prometheus.CounterVec
	droppedConnections prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in the registry",
		}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events handled, by event and result",
		}, []string{"event", "result"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Inbound event handling duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"event"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Server pushes queued to connections, by event",
		}, []string{"event"}),

		droppedConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_connections_total",
			Help:      "Connections dropped because their send buffer was full",
		}),
	}
}

// ConnectionOpened counts an upgraded websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

// ConnectionClosed counts a connection leaving the hub.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// SetSessions records the current registry size.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// ObserveEvent records one handled inbound event.
func (m *Metrics) ObserveEvent(event, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, result).Inc()
	m.eventDuration.WithLabelValues(event).Observe(d.Seconds())
}

// Pushed records n frames of event queued for delivery.
func (m *Metrics) Pushed(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcastsTotal.WithLabelValues(event).Add(float64(n))
}

// ConnectionDropped counts a connection cut off for a full send buffer.
func (m *Metrics) ConnectionDropped() {
	if m == nil {
		return
	}
	m.droppedConnections.Inc()
}
