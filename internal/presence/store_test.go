package presence

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"classpulse/pkg/types"
)

// fakeClock is a settable time source shared by the store under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

var (
	convC1  = types.Scope{Type: types.ScopeConversations, ID: "C1"}
	convC2  = types.Scope{Type: types.ScopeConversations, ID: "C2"}
	groupC1 = types.Scope{Type: types.ScopeGroups, ID: "C1"}
)

func TestStore_OnlineInFiltersByScope(t *testing.T) {
	s := NewStore()
	s.MarkOnline("bob", convC1)
	s.MarkOnline("alice", convC1)
	s.MarkOnline("carol", convC2)
	s.MarkOnline("dave", groupC1)

	if got := s.OnlineIn(convC1); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Expected [alice bob], got %v", got)
	}
	if got := s.OnlineIn(groupC1); !reflect.DeepEqual(got, []string{"dave"}) {
		t.Errorf("Expected [dave], got %v", got)
	}
	if got := s.OnlineIn(types.Scope{Type: types.ScopeGroups, ID: "none"}); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil list, got %#v", got)
	}
}

func TestStore_MarkOnlineMovesUser(t *testing.T) {
	s := NewStore()
	s.MarkOnline("alice", convC1)
	s.MarkOnline("alice", convC2)

	if len(s.OnlineIn(convC1)) != 0 {
		t.Error("Expected alice to leave C1")
	}
	if online, _ := s.Counts(); online != 1 {
		t.Errorf("Expected one online entry, got %d", online)
	}
}

func TestStore_TouchIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.MarkOnline("alice", convC1)
	first, _ := s.Online("alice")

	clock.Advance(5 * time.Second)
	s.Touch("alice")
	second, _ := s.Online("alice")
	if !second.LastSeen.After(first.LastSeen) {
		t.Errorf("Expected lastSeen to advance, %v -> %v", first.LastSeen, second.LastSeen)
	}

	clock.Advance(-time.Minute)
	s.Touch("alice")
	third, _ := s.Online("alice")
	if third.LastSeen.Before(second.LastSeen) {
		t.Errorf("lastSeen moved backwards: %v -> %v", second.LastSeen, third.LastSeen)
	}
}

func TestStore_TouchKeepsScope(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.MarkOnline("alice", convC2)

	clock.Advance(time.Second)
	if !s.Touch("alice") {
		t.Fatal("Expected Touch to find alice")
	}
	entry, _ := s.Online("alice")
	if entry.Scope != convC2 {
		t.Errorf("Expected scope %v to survive a refresh, got %v", convC2, entry.Scope)
	}
	if !entry.LastSeen.Equal(clock.Now()) {
		t.Errorf("Expected lastSeen %v, got %v", clock.Now(), entry.LastSeen)
	}
}

func TestStore_TouchDoesNotCreate(t *testing.T) {
	s := NewStore()
	if s.Touch("alice") {
		t.Error("Expected Touch to report a missing entry")
	}
	if _, ok := s.Online("alice"); ok {
		t.Error("Touch must not create an entry")
	}
}

func TestStore_RemoveOnline(t *testing.T) {
	s := NewStore()
	s.MarkOnline("alice", convC1)

	entry, ok := s.RemoveOnline("alice")
	if !ok || entry.Scope != convC1 {
		t.Errorf("Expected removed entry for C1, got %+v ok=%v", entry, ok)
	}
	if _, ok := s.RemoveOnline("alice"); ok {
		t.Error("Expected second removal to report absence")
	}
}

func TestStore_TypingRoundTrip(t *testing.T) {
	s := NewStore()
	s.SetTyping("alice", convC1)
	s.SetTyping("bob", convC1)

	if got := s.TypingIn(convC1); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Expected [alice bob], got %v", got)
	}

	if !s.ClearTyping("alice") {
		t.Error("Expected ClearTyping to report existing entry")
	}
	if s.ClearTyping("alice") {
		t.Error("Expected second ClearTyping to report absence")
	}
	if got := s.TypingIn(convC1); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("Expected [bob], got %v", got)
	}
}

func TestStore_ExpireOnline(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	s.MarkOnline("stale", convC1)
	clock.Advance(20 * time.Second)
	s.MarkOnline("fresh", convC1)
	clock.Advance(11 * time.Second)

	evicted := s.ExpireOnline(clock.Now(), 30*time.Second)
	if len(evicted) != 1 || evicted[0].UserID != "stale" {
		t.Fatalf("Expected only stale evicted, got %+v", evicted)
	}
	if got := s.OnlineIn(convC1); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("Expected [fresh] to remain, got %v", got)
	}

	// Exactly at the TTL boundary is not yet stale
	clock.Set(clock.Now().Add(19 * time.Second))
	if evicted := s.ExpireOnline(clock.Now(), 30*time.Second); len(evicted) != 0 {
		t.Errorf("Expected no eviction at boundary, got %+v", evicted)
	}
}

func TestStore_ExpireTyping(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	s.SetTyping("alice", convC1)
	clock.Advance(3 * time.Second)
	s.SetTyping("bob", convC2)
	clock.Advance(3 * time.Second)

	evicted := s.ExpireTyping(clock.Now(), 5*time.Second)
	if len(evicted) != 1 || evicted[0].UserID != "alice" || evicted[0].Scope != convC1 {
		t.Fatalf("Expected alice evicted from C1, got %+v", evicted)
	}
	if _, typing := s.Counts(); typing != 1 {
		t.Errorf("Expected one typing entry left, got %d", typing)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				s.MarkOnline(user, convC1)
				s.SetTyping(user, convC1)
				s.OnlineIn(convC1)
				s.TypingIn(convC1)
				s.Touch(user)
				s.ClearTyping(user)
			}
		}(i)
	}
	wg.Wait()

	if online, typing := s.Counts(); online != 20 || typing != 0 {
		t.Errorf("Expected 20 online and 0 typing, got %d and %d", online, typing)
	}
}
