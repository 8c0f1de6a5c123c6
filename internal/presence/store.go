// Package presence tracks which users are online and typing in each scope.
package presence

import (
	"sort"
	"sync"
	"time"

	"classpulse/pkg/types"
)

// OnlineEntry is the last known activity of a user
type OnlineEntry struct {
	UserID   string
	LastSeen time.Time
	Scope    types.Scope
}

// TypingEntry is an active typing indicator
type TypingEntry struct {
	UserID    string
	Scope     types.Scope
	Timestamp time.Time
}

// Store holds the online and typing maps for the whole process.
// ARCHITECTURAL DISCOVERY: One entry per user in each map; a user typing in
// one scope and then another simply moves the entry.
type Store struct {
	mu     sync.RWMutex
	online map[string]OnlineEntry
	typing map[string]TypingEntry
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock injects the time source used for lastSeen and typing timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		online: make(map[string]OnlineEntry),
		typing: make(map[string]TypingEntry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's clock reading
func (s *Store) Now() time.Time {
	return s.now()
}

// MarkOnline upserts the user's online entry for scope
func (s *Store) MarkOnline(userID string, scope types.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online[userID] = OnlineEntry{UserID: userID, LastSeen: s.now(), Scope: scope}
}

// Touch refreshes lastSeen for an existing entry and reports whether one
// was found. The entry keeps its scope: a keepalive on a secondary socket
// must not move the user out of the primary socket's scope. lastSeen never
// moves backwards, so a clock step does not make a connected user look stale.
func (s *Store) Touch(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.online[userID]
	if !ok {
		return false
	}
	if now := s.now(); now.After(entry.LastSeen) {
		entry.LastSeen = now
	}
	s.online[userID] = entry
	return true
}

// RemoveOnline deletes the user's online entry and reports whether it existed
func (s *Store) RemoveOnline(userID string) (OnlineEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.online[userID]
	if ok {
		delete(s.online, userID)
	}
	return entry, ok
}

// Online returns the user's online entry
func (s *Store) Online(userID string) (OnlineEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.online[userID]
	return entry, ok
}

// SetTyping upserts the user's typing entry for scope
func (s *Store) SetTyping(userID string, scope types.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.typing[userID] = TypingEntry{UserID: userID, Scope: scope, Timestamp: s.now()}
}

// ClearTyping deletes the user's typing entry and reports whether it existed
func (s *Store) ClearTyping(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.typing[userID]
	delete(s.typing, userID)
	return ok
}

// OnlineIn lists the users whose online entry matches scope, sorted.
// TECHNICAL DISCOVERY: Full scan with no secondary index. Fine for one
// process worth of users and keeps the two maps the only state.
func (s *Store) OnlineIn(scope types.Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0)
	for id, entry := range s.online {
		if entry.Scope == scope {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// TypingIn lists the users currently typing in scope, sorted
func (s *Store) TypingIn(scope types.Scope) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0)
	for id, entry := range s.typing {
		if entry.Scope == scope {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// ExpireOnline removes every online entry silent for longer than ttl and
// returns what it removed. Candidates are collected from a snapshot first.
func (s *Store) ExpireOnline(now time.Time, ttl time.Duration) []OnlineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []OnlineEntry
	for _, entry := range s.online {
		if now.Sub(entry.LastSeen) > ttl {
			stale = append(stale, entry)
		}
	}
	for _, entry := range stale {
		delete(s.online, entry.UserID)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UserID < stale[j].UserID })
	return stale
}

// ExpireTyping removes every typing entry older than ttl and returns what it
// removed
func (s *Store) ExpireTyping(now time.Time, ttl time.Duration) []TypingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []TypingEntry
	for _, entry := range s.typing {
		if now.Sub(entry.Timestamp) > ttl {
			stale = append(stale, entry)
		}
	}
	for _, entry := range stale {
		delete(s.typing, entry.UserID)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UserID < stale[j].UserID })
	return stale
}

// Counts returns the sizes of the online and typing maps
func (s *Store) Counts() (online, typing int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.online), len(s.typing)
}
