// Package metrics holds the Prometheus collectors shared by the chat modules.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presence_chat"

// Metrics groups every collector exported by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections      prometheus.Gauge
	eventsTotal      *prometheus.CounterVec
	deliveriesTotal  prometheus.Counter
	droppedTotal     *prometheus.CounterVec
	gatewayDuration  *prometheus.HistogramVec
	gatewayErrors    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	rateLimitedTotal prometheus.Counter
	privateMessages  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open WebSocket connections",
		}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events processed by the router",
		}, []string{"event", "outcome"}),

		deliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound events queued to connections",
		}),

		droppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Outbound events dropped before reaching a connection",
		}, []string{"reason"}),

		gatewayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_duration_seconds",
			Help:      "Persistence gateway call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		gatewayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Persistence gateway failures",
		}, []string{"operation", "kind"}),

		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Conversation cache lookups",
		}, []string{"result"}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rate_limited_total",
			Help:      "Inbound events rejected by the per-connection limiter",
		}),

		privateMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "private_messages_stored_total",
			Help:      "Private messages stored, by recipient presence at store time",
		}, []string{"recipient"}),
	}
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Event counts one processed inbound event.
func (m *Metrics) Event(name, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(name, outcome).Inc()
}

// Delivered counts queued outbound events.
func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.deliveriesTotal.Add(float64(n))
}

// Dropped counts an outbound event that was not queued.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// GatewayCall records the latency and failure kind of one gateway call. An
// empty kind means success.
func (m *Metrics) GatewayCall(op string, started time.Time, kind string) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if kind != "" {
		m.gatewayErrors.WithLabelValues(op, kind).Inc()
	}
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// PrivateMessageStored counts a stored private message. online reports
// whether the recipient had a private chat connection.
func (m *Metrics) PrivateMessageStored(online bool) {
	if m == nil {
		return
	}
	recipient := "offline"
	if online {
		recipient = "online"
	}
	m.privateMessages.WithLabelValues(recipient).Inc()
}

// RateLimited counts an event rejected by the limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
