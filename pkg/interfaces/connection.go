package interfaces

import "classpulse/pkg/types"

// Peer is the view of a live socket that message handlers need
// ARCHITECTURAL DISCOVERY: Handlers never touch the transport directly, which
// keeps the dispatcher testable without a real WebSocket.
type Peer interface {
	// WriteJSON queues a frame for this socket only (thread-safe)
	WriteJSON(v interface{}) error

	// UserID returns the identity resolved from the token
	UserID() string

	// Scope returns the conversation or group the socket subscribed to
	Scope() types.Scope
}

// Broadcaster fans a payload out to every open socket in a scope
// FUNCTIONAL DISCOVERY: Returns the number of sockets the frame was queued on;
// a scope with no sockets is a no-op, not an error.
type Broadcaster interface {
	Broadcast(scope types.Scope, payload interface{}) int
}

// Dispatcher routes one inbound text frame from a peer
type Dispatcher interface {
	Dispatch(peer Peer, data []byte)
}
