package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatty_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Data actor metrics
	ActorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_actor_requests_total",
			Help: "Total data actor requests",
		},
		[]string{"type", "outcome"}, // outcome: "result" or "failure"
	)

	ActorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatty_actor_latency_seconds",
			Help:    "Data actor request handling latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5, 1},
		},
		[]string{"type"},
	)

	// Presence metrics
	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatty_presence_heartbeats_total",
			Help: "Total presence heartbeats ingested",
		},
	)

	PresenceSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_presence_sweeps_total",
			Help: "Total presence sweeps",
		},
		[]string{"outcome"},
	)

	PresentMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatty_presence_members",
			Help: "Live presence entries seen by the last sweep",
		},
	)

	DirectoryBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_room_directory_broadcasts_total",
			Help: "Total room directory broadcasts",
		},
		[]string{"outcome"},
	)

	// Relay metrics
	MessagesRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatty_messages_relayed_total",
			Help: "Total chat messages recorded and broadcast",
		},
	)

	MessagesAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_messages_abandoned_total",
			Help: "Total chat messages dropped before broadcast",
		},
		[]string{"stage"},
	)

	// Event bus metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_bus_published_total",
			Help: "Total messages published on the event bus",
		},
		[]string{"address"},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatty_bus_dropped_total",
			Help: "Total deliveries dropped because a subscriber was full",
		},
		[]string{"address"},
	)

	// Bridge metrics
	BridgeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatty_bridge_connections",
			Help: "Open websocket bridge connections",
		},
	)
)

// roomScopedPrefixes lists addresses parameterized by a room id.
var roomScopedPrefixes = []string{"webchat.partakers."}

// AddressLabel normalizes bus addresses to avoid high cardinality in metrics.
func AddressLabel(address string) string {
	for _, prefix := range roomScopedPrefixes {
		if strings.HasPrefix(address, prefix) && len(address) > len(prefix) {
			return prefix + "*"
		}
	}
	return address
}
