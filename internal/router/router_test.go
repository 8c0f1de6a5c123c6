package router

import (
	"strings"
	"sync"
	"testing"
	"time"

	"classpulse/internal/presence"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// recordingBroadcaster captures broadcasts instead of sending them
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

type broadcastCall struct {
	scope   types.Scope
	payload interface{}
}

func (b *recordingBroadcaster) Broadcast(scope types.Scope, payload interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{scope: scope, payload: payload})
	return 1
}

func (b *recordingBroadcaster) Calls() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

// mockPeer records direct replies
type mockPeer struct {
	mu      sync.Mutex
	userID  string
	scope   types.Scope
	replies []interface{}
}

func (p *mockPeer) WriteJSON(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, v)
	return nil
}

func (p *mockPeer) UserID() string     { return p.userID }
func (p *mockPeer) Scope() types.Scope { return p.scope }

func (p *mockPeer) Replies() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.replies...)
}

var convC1 = types.Scope{Type: types.ScopeConversations, ID: "C1"}

var _ interfaces.Dispatcher = (*Router)(nil)

func newTestRouter(t *testing.T, opts ...Option) (*Router, *recordingBroadcaster, *presence.Store) {
	t.Helper()
	b := &recordingBroadcaster{}
	store := presence.NewStore()
	r, err := NewRouter(b, store, opts...)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return r, b, store
}

func expectError(t *testing.T, peer *mockPeer, message string) {
	t.Helper()
	replies := peer.Replies()
	if len(replies) != 1 {
		t.Fatalf("Expected exactly one reply, got %d: %+v", len(replies), replies)
	}
	frame, ok := replies[0].(types.MessageFrame)
	if !ok || frame.Type != types.FrameError {
		t.Fatalf("Expected ERROR frame, got %+v", replies[0])
	}
	if message != "" && frame.Message != message {
		t.Errorf("Expected message %q, got %q", message, frame.Message)
	}
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	if _, err := NewRouter(nil, presence.NewStore()); err != ErrNilBroadcaster {
		t.Errorf("Expected ErrNilBroadcaster, got %v", err)
	}
	if _, err := NewRouter(&recordingBroadcaster{}, nil); err != ErrNilPresence {
		t.Errorf("Expected ErrNilPresence, got %v", err)
	}
}

func TestDispatch_ChatMessage(t *testing.T) {
	r, b, _ := newTestRouter(t, WithIDGenerator(func() string { return "generated-1" }))
	peer := &mockPeer{userID: "alice", scope: convC1}

	r.Dispatch(peer, []byte(`{"type":"CHAT_MESSAGE","message":{"content":"hi"}}`))

	calls := b.Calls()
	if len(calls) != 1 {
		t.Fatalf("Expected one broadcast, got %d", len(calls))
	}
	msg, ok := calls[0].payload.(types.NewMessage)
	if !ok {
		t.Fatalf("Expected NEW_MESSAGE payload, got %T", calls[0].payload)
	}
	if calls[0].scope != convC1 {
		t.Errorf("Expected broadcast to C1, got %v", calls[0].scope)
	}
	if msg.Message.Content != "hi" || msg.Message.SenderID != "alice" || msg.Message.ID != "generated-1" {
		t.Errorf("Unexpected record: %+v", msg.Message)
	}
	if msg.Message.ScopeType != types.ScopeConversations || msg.Message.ScopeID != "C1" {
		t.Errorf("Record not stamped with scope: %+v", msg.Message)
	}

	replies := peer.Replies()
	if len(replies) != 1 {
		t.Fatalf("Expected one direct reply, got %d", len(replies))
	}
	if delivered, ok := replies[0].(types.MessageDelivered); !ok || delivered.MessageID != "generated-1" {
		t.Errorf("Expected MESSAGE_DELIVERED for generated-1, got %+v", replies[0])
	}
}

func TestDispatch_ChatMessageKeepsCallerID(t *testing.T) {
	r, b, _ := newTestRouter(t)
	peer := &mockPeer{userID: "alice", scope: convC1}

	r.Dispatch(peer, []byte(`{"type":"CHAT_MESSAGE","message":{"id":"db-77","content":"hi"}}`))

	msg := b.Calls()[0].payload.(types.NewMessage)
	if msg.Message.ID != "db-77" {
		t.Errorf("Expected caller id db-77, got %s", msg.Message.ID)
	}
}

func TestDispatch_EmptyContentRejected(t *testing.T) {
	r, b, _ := newTestRouter(t)

	for _, raw := range []string{
		`{"type":"CHAT_MESSAGE","message":{}}`,
		`{"type":"CHAT_MESSAGE","message":{"content":""}}`,
		`{"type":"CHAT_MESSAGE"}`,
	} {
		peer := &mockPeer{userID: "alice", scope: convC1}
		r.Dispatch(peer, []byte(raw))
		expectError(t, peer, "Invalid message format")
	}

	if len(b.Calls()) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(b.Calls()))
	}
}

func TestDispatch_MalformedAndUnknown(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{"not json", `hello`, "Invalid JSON message"},
		{"array", `[1,2]`, "Invalid JSON message"},
		{"unknown type", `{"type":"NOT_A_TYPE"}`, "Unknown message type: NOT_A_TYPE"},
		{"missing type", `{"content":"x"}`, "Unknown message type: "},
		{"chat payload not an object", `{"type":"CHAT_MESSAGE","message":"hi"}`, "Invalid message format"},
		{"typing flag not a bool", `{"type":"TYPING_STATUS","isTyping":"yes"}`, "Invalid message format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, b, _ := newTestRouter(t)
			peer := &mockPeer{userID: "alice", scope: convC1}

			r.Dispatch(peer, []byte(tt.raw))

			expectError(t, peer, tt.message)
			if len(b.Calls()) != 0 {
				t.Errorf("Expected zero broadcasts, got %d", len(b.Calls()))
			}

			// The peer keeps working after bad input
			r.Dispatch(peer, []byte(`{"type":"PING","timestamp":1}`))
			if len(peer.Replies()) != 2 {
				t.Errorf("Expected PONG after error, got %+v", peer.Replies())
			}
		})
	}
}

func TestDispatch_TypingRoundTrip(t *testing.T) {
	r, b, store := newTestRouter(t)
	alice := &mockPeer{userID: "alice", scope: convC1}
	bob := &mockPeer{userID: "bob", scope: convC1}

	r.Dispatch(alice, []byte(`{"type":"TYPING_STATUS","isTyping":true}`))
	r.Dispatch(bob, []byte(`{"type":"TYPING_STATUS","isTyping":true}`))
	r.Dispatch(alice, []byte(`{"type":"TYPING_STATUS","isTyping":false}`))

	calls := b.Calls()
	if len(calls) != 3 {
		t.Fatalf("Expected three broadcasts, got %d", len(calls))
	}

	second := calls[1].payload.(types.TypingUpdate)
	if strings.Join(second.TypingUsers, ",") != "alice,bob" {
		t.Errorf("Expected alice,bob typing, got %v", second.TypingUsers)
	}

	last := calls[2].payload.(types.TypingUpdate)
	if last.UserID != "alice" || last.IsTyping {
		t.Errorf("Unexpected final update: %+v", last)
	}
	for _, u := range last.TypingUsers {
		if u == "alice" {
			t.Error("Final typingUsers still lists alice")
		}
	}
	if got := store.TypingIn(convC1); len(got) != 1 || got[0] != "bob" {
		t.Errorf("Expected only bob typing, got %v", got)
	}
}

func TestDispatch_MessageRead(t *testing.T) {
	r, b, _ := newTestRouter(t)
	peer := &mockPeer{userID: "bob", scope: convC1}

	r.Dispatch(peer, []byte(`{"type":"MESSAGE_READ","messageId":1234}`))

	calls := b.Calls()
	if len(calls) != 1 {
		t.Fatalf("Expected one broadcast, got %d", len(calls))
	}
	read := calls[0].payload.(types.MessageRead)
	if read.UserID != "bob" {
		t.Errorf("Expected reader bob, got %s", read.UserID)
	}
	if id, ok := read.MessageID.(float64); !ok || id != 1234 {
		t.Errorf("Expected numeric message id echoed, got %#v", read.MessageID)
	}
	if len(peer.Replies()) != 0 {
		t.Errorf("Expected no direct reply, got %+v", peer.Replies())
	}
}

func TestDispatch_TopicChangeTargetsGroups(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	b := &recordingBroadcaster{}
	store := presence.NewStore(presence.WithClock(func() time.Time { return now }))
	r, err := NewRouter(b, store)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	for _, scope := range []types.Scope{
		{Type: types.ScopeGroups, ID: "G1"},
		{Type: types.ScopeConversations, ID: "G1"},
	} {
		peer := &mockPeer{userID: "instructor", scope: scope}
		r.Dispatch(peer, []byte(`{"type":"GROUP_TOPIC_CHANGE","topic":"Fractions"}`))
	}

	calls := b.Calls()
	if len(calls) != 2 {
		t.Fatalf("Expected two broadcasts, got %d", len(calls))
	}
	for _, call := range calls {
		if call.scope != (types.Scope{Type: types.ScopeGroups, ID: "G1"}) {
			t.Errorf("Expected groups/G1, got %v", call.scope)
		}
		changed := call.payload.(types.TopicChanged)
		if changed.Topic.Topic != "Fractions" || changed.Topic.SetBy != "instructor" || !changed.Topic.SetAt.Equal(now) {
			t.Errorf("Unexpected topic: %+v", changed.Topic)
		}
	}
}

func TestDispatch_PingRefreshesPresence(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	b := &recordingBroadcaster{}
	store := presence.NewStore(presence.WithClock(func() time.Time { return clock }))
	r, _ := NewRouter(b, store)
	peer := &mockPeer{userID: "alice", scope: convC1}

	store.MarkOnline("alice", convC1)
	clock = clock.Add(20 * time.Second)

	r.Dispatch(peer, []byte(`{"type":"PING","timestamp":"client-clock-1"}`))

	entry, ok := store.Online("alice")
	if !ok || !entry.LastSeen.Equal(clock) {
		t.Errorf("Expected lastSeen refreshed to %v, got %+v", clock, entry)
	}

	replies := peer.Replies()
	if len(replies) != 1 {
		t.Fatalf("Expected one reply, got %d", len(replies))
	}
	if pong, ok := replies[0].(types.Pong); !ok || pong.Timestamp != "client-clock-1" {
		t.Errorf("Expected PONG echoing client timestamp, got %+v", replies[0])
	}
	if len(b.Calls()) != 0 {
		t.Error("PING must not broadcast")
	}
}

func TestDispatch_PingKeepsPrimaryScope(t *testing.T) {
	r, _, store := newTestRouter(t)
	convC2 := types.Scope{Type: types.ScopeConversations, ID: "C2"}
	store.MarkOnline("alice", convC2)

	r.Dispatch(&mockPeer{userID: "alice", scope: convC1}, []byte(`{"type":"PING","timestamp":1}`))

	entry, ok := store.Online("alice")
	if !ok || entry.Scope != convC2 {
		t.Errorf("Expected alice to stay online in C2, got %+v", entry)
	}
	if online := store.OnlineIn(convC2); len(online) != 1 || online[0] != "alice" {
		t.Errorf("Expected alice listed in C2, got %v", online)
	}
}

func TestDispatch_PingRebuildsOnlyFromPrimary(t *testing.T) {
	primary := &mockPeer{userID: "alice", scope: convC1}
	secondary := &mockPeer{userID: "alice", scope: types.Scope{Type: types.ScopeConversations, ID: "C2"}}
	r, _, store := newTestRouter(t, WithPrimaryCheck(func(p interfaces.Peer) bool {
		return p == interfaces.Peer(primary)
	}))

	r.Dispatch(secondary, []byte(`{"type":"PING","timestamp":1}`))
	if _, ok := store.Online("alice"); ok {
		t.Fatal("A secondary socket must not recreate the online entry")
	}

	r.Dispatch(primary, []byte(`{"type":"PING","timestamp":2}`))
	entry, ok := store.Online("alice")
	if !ok || entry.Scope != convC1 {
		t.Errorf("Expected entry rebuilt in the primary scope, got %+v", entry)
	}
	if len(secondary.Replies()) != 1 || len(primary.Replies()) != 1 {
		t.Error("Expected both sockets to get a PONG")
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	r, b, _ := newTestRouter(t, WithRateLimiter(NewRateLimiter(2)))
	peer := &mockPeer{userID: "alice", scope: convC1}

	for i := 0; i < 3; i++ {
		r.Dispatch(peer, []byte(`{"type":"MESSAGE_READ","messageId":"m1"}`))
	}

	if len(b.Calls()) != 2 {
		t.Errorf("Expected two broadcasts before limiting, got %d", len(b.Calls()))
	}
	replies := peer.Replies()
	if len(replies) != 1 {
		t.Fatalf("Expected one rate limit reply, got %d", len(replies))
	}
	if frame := replies[0].(types.MessageFrame); frame.Message != "Rate limit exceeded" {
		t.Errorf("Expected rate limit message, got %q", frame.Message)
	}
}
