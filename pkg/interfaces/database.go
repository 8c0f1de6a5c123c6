package interfaces

import (
	"context"
	"time"

	"classpulse/pkg/types"
)

// ConnectionRecord is one accepted socket in the audit log
type ConnectionRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	ScopeType      types.ScopeType `json:"scopeType"`
	ScopeID        string          `json:"scopeId"`
	ConnectedAt    time.Time       `json:"connectedAt"`
	DisconnectedAt *time.Time      `json:"disconnectedAt,omitempty"`
	CloseReason    string          `json:"closeReason,omitempty"`
}

// ConnectionFilter narrows ListConnections; zero values match everything
type ConnectionFilter struct {
	UserID    string
	ScopeType types.ScopeType
	ScopeID   string
	Limit     int
}

// ConnectionLog records connection lifecycle events
// ARCHITECTURAL DISCOVERY: Writes are fire-and-forget from the socket path so
// a slow disk never stalls connection setup or teardown.
type ConnectionLog interface {
	// RecordConnect queues an insert for a newly registered socket
	RecordConnect(ctx context.Context, record *ConnectionRecord) error

	// RecordDisconnect queues the close of a previously recorded socket
	RecordDisconnect(ctx context.Context, id string, at time.Time, reason string) error

	// ListConnections reads audit rows, newest first
	ListConnections(ctx context.Context, filter ConnectionFilter) ([]*ConnectionRecord, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close drains queued writes and closes the database
	Close() error
}
