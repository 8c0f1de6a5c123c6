// Package metrics exposes Prometheus collectors for the realtime layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons
const (
	ReasonAuth    = "auth"
	ReasonPath    = "path"
	ReasonSetup   = "setup"
	ReasonUpgrade = "upgrade"
)

// Frame error kinds
const (
	KindParse       = "parse"
	KindUnknownType = "unknown_type"
	KindValidation  = "validation"
	KindRateLimited = "rate_limited"
	KindPanic       = "panic"
)

// Eviction kinds
const (
	EvictionOnline = "online"
	EvictionTyping = "typing"
)

var (
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classpulse_ws_connections",
			Help: "Current number of registered WebSocket connections",
		},
		[]string{"scope_type"},
	)

	WSRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_ws_rejections_total",
			Help: "Total number of connection attempts rejected before registration",
		},
		[]string{"reason"}, // "auth", "path", "setup", "upgrade"
	)

	WSFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_ws_frames_total",
			Help: "Total number of inbound frames dispatched, by message type",
		},
		[]string{"type"},
	)

	WSFrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_ws_frame_errors_total",
			Help: "Total number of inbound frames answered with an ERROR frame",
		},
		[]string{"kind"},
	)

	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_broadcast_deliveries_total",
			Help: "Total number of frames queued on sockets by scope broadcasts",
		},
		[]string{"scope_type"},
	)

	PresenceEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_presence_evictions_total",
			Help: "Total number of presence entries evicted by the reaper",
		},
		[]string{"kind"}, // "online", "typing"
	)
)

// TrackConnection adjusts the live connection gauge for a scope type
func TrackConnection(scopeType string, inc bool) {
	if inc {
		WSConnections.WithLabelValues(scopeType).Inc()
	} else {
		WSConnections.WithLabelValues(scopeType).Dec()
	}
}

func RecordRejection(reason string) {
	WSRejections.WithLabelValues(reason).Inc()
}

func RecordFrame(frameType string) {
	WSFrames.WithLabelValues(frameType).Inc()
}

func RecordFrameError(kind string) {
	WSFrameErrors.WithLabelValues(kind).Inc()
}

// RecordDeliveries adds n queued sends for one broadcast
func RecordDeliveries(scopeType string, n int) {
	if n <= 0 {
		return
	}
	BroadcastDeliveries.WithLabelValues(scopeType).Add(float64(n))
}

func RecordEvictions(kind string, n int) {
	if n <= 0 {
		return
	}
	PresenceEvictions.WithLabelValues(kind).Add(float64(n))
}
