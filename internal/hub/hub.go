// Package hub fans frames out to scopes and sweeps stale presence.
package hub

import (
	"github.com/rs/zerolog"

	"classpulse/internal/logging"
	"classpulse/internal/metrics"
	"classpulse/internal/websocket"
	"classpulse/pkg/types"
)

// Hub is the broadcast engine over the connection registry
// ARCHITECTURAL DISCOVERY: Central fan-out point for all scope traffic; the
// router, lifecycle handler, reaper and push API all deliver through it.
type Hub struct {
	registry *websocket.Registry
	logger   zerolog.Logger
}

// NewHub creates a broadcast engine
func NewHub(registry *websocket.Registry) (*Hub, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	return &Hub{
		registry: registry,
		logger:   logging.WithComponent("hub"),
	}, nil
}

// Broadcast serializes payload once and queues it on every open socket in
// scope, returning how many sockets took it.
// FUNCTIONAL DISCOVERY: Sockets that are closing or closed are skipped, not
// pruned; only their own teardown removes them from the registry.
func (h *Hub) Broadcast(scope types.Scope, payload interface{}) int {
	// TECHNICAL DISCOVERY: Snapshot is taken under the registry lock and the
	// sends happen outside it, so a slow socket never blocks registration
	connections := h.registry.ScopeConnections(scope)
	if len(connections) == 0 {
		return 0
	}

	data, err := types.Encode(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("scope", scope.String()).Msg("failed to encode broadcast")
		return 0
	}

	delivered := 0
	for _, conn := range connections {
		if !conn.IsOpen() {
			continue
		}
		if err := conn.Send(data); err != nil {
			h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Str("scope", scope.String()).Msg("skipped socket during broadcast")
			continue
		}
		delivered++
	}

	metrics.RecordDeliveries(string(scope.Type), delivered)
	return delivered
}

// Stats reports registry sizes for the health endpoint
func (h *Hub) Stats() websocket.Stats {
	return h.registry.Stats()
}
