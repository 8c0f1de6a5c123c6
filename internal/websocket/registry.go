package websocket

import (
	"sync"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Stats is the size of each registry map
type Stats struct {
	Conversations int `json:"conversations"`
	Groups        int `json:"groups"`
	Users         int `json:"users"`
}

// Registry tracks live sockets by scope and by user
// ARCHITECTURAL DISCOVERY: Pure connection tracking without business logic;
// presence and broadcasting sit on top of it.
type Registry struct {
	mu            sync.RWMutex                        // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy broadcast lookups
	conversations map[string]map[*Connection]struct{} // conversationID -> sockets
	groups        map[string]map[*Connection]struct{} // groupID -> sockets
	users         map[string]*Connection              // userID -> most recently registered socket
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		conversations: make(map[string]map[*Connection]struct{}),
		groups:        make(map[string]map[*Connection]struct{}),
		users:         make(map[string]*Connection),
	}
}

func (r *Registry) scopeMap(t types.ScopeType) map[string]map[*Connection]struct{} {
	switch t {
	case types.ScopeConversations:
		return r.conversations
	case types.ScopeGroups:
		return r.groups
	default:
		return nil
	}
}

// Register adds a connection to its scope set and makes it the user's
// primary socket.
// FUNCTIONAL DISCOVERY: A second socket for the same user replaces the users
// entry but the first socket stays open and keeps receiving scope broadcasts.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	if err := checkIdentified(conn); err != nil {
		return err
	}
	userID := conn.UserID()
	scope := conn.Scope()

	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.scopeMap(scope.Type)
	set, ok := m[scope.ID]
	if !ok {
		set = make(map[*Connection]struct{})
		m[scope.ID] = set
	}
	set[conn] = struct{}{}

	r.users[userID] = conn
	return nil
}

// checkIdentified reports whether conn carries a user and a routable scope
func checkIdentified(conn *Connection) error {
	scope := conn.Scope()
	if conn.UserID() == "" || !scope.Type.Valid() || scope.ID == "" {
		return ErrConnectionNotIdentified
	}
	return nil
}

// Unregister removes a connection from its scope set and reports whether it
// was still the user's primary socket.
// RACE CONDITION FIX: The users entry is only removed when it still points at
// this connection, so an old socket closing late never evicts a newer one.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	userID := conn.UserID()
	scope := conn.Scope()

	r.mu.Lock()
	defer r.mu.Unlock()

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if m := r.scopeMap(scope.Type); m != nil {
		if set, ok := m[scope.ID]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(m, scope.ID)
			}
		}
	}

	if registered, ok := r.users[userID]; ok && registered == conn {
		delete(r.users, userID)
		return true
	}
	return false
}

// ScopeConnections returns a snapshot of every socket in scope
func (r *Registry) ScopeConnections(scope types.Scope) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.scopeMap(scope.Type)[scope.ID]
	if len(set) == 0 {
		return nil
	}

	connections := make([]*Connection, 0, len(set))
	for conn := range set {
		connections = append(connections, conn)
	}
	return connections
}

// UserConnection returns the user's primary socket with O(1) lookup
func (r *Registry) UserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[userID]
	return conn, ok
}

// IsPrimary reports whether peer is its user's primary socket
func (r *Registry) IsPrimary(peer interfaces.Peer) bool {
	conn, ok := r.UserConnection(peer.UserID())
	return ok && interfaces.Peer(conn) == peer
}

// Connections returns a snapshot of every registered socket
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, m := range []map[string]map[*Connection]struct{}{r.conversations, r.groups} {
		for _, set := range m {
			for conn := range set {
				connections = append(connections, conn)
			}
		}
	}
	return connections
}

// Stats returns the sizes of the three maps
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Conversations: len(r.conversations),
		Groups:        len(r.groups),
		Users:         len(r.users),
	}
}

// CloseAll sends a close frame with code and reason to every registered
// socket and returns how many were told. Registry cleanup happens through
// each socket's own teardown.
func (r *Registry) CloseAll(code int, reason string) int {
	connections := r.Connections()
	for _, conn := range connections {
		conn.CloseWithCode(code, reason)
	}
	return len(connections)
}
