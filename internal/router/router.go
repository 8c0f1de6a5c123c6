// Package router turns inbound socket frames into presence changes,
// broadcasts and direct replies.
package router

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"classpulse/internal/logging"
	"classpulse/internal/metrics"
	"classpulse/internal/presence"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Router implements interfaces.Dispatcher
// ARCHITECTURAL DISCOVERY: Pure message semantics without connection handling;
// everything it needs from a socket is the Peer view.
type Router struct {
	broadcaster interfaces.Broadcaster
	presence    *presence.Store
	limiter     *RateLimiter // nil disables frame limiting
	isPrimary   func(interfaces.Peer) bool
	newID       func() string
	logger      zerolog.Logger
}

// Option configures a Router
type Option func(*Router)

// WithRateLimiter enables per-user frame limiting
func WithRateLimiter(rl *RateLimiter) Option {
	return func(r *Router) {
		r.limiter = rl
	}
}

// WithPrimaryCheck tells the router which socket owns a user's presence.
// Without it every socket is treated as primary.
func WithPrimaryCheck(isPrimary func(interfaces.Peer) bool) Option {
	return func(r *Router) {
		r.isPrimary = isPrimary
	}
}

// WithIDGenerator replaces the chat id generator
func WithIDGenerator(newID func() string) Option {
	return func(r *Router) {
		r.newID = newID
	}
}

// NewRouter creates a dispatcher
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with a recording broadcaster
func NewRouter(broadcaster interfaces.Broadcaster, store *presence.Store, opts ...Option) (*Router, error) {
	if broadcaster == nil {
		return nil, ErrNilBroadcaster
	}
	if store == nil {
		return nil, ErrNilPresence
	}

	r := &Router{
		broadcaster: broadcaster,
		presence:    store,
		newID:       uuid.NewString,
		logger:      logging.WithComponent("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RateLimiter returns the frame limiter, or nil when limiting is off
func (r *Router) RateLimiter() *RateLimiter {
	return r.limiter
}

// Dispatch handles one inbound frame. Failures are answered with an ERROR
// frame on the same socket and never close it.
func (r *Router) Dispatch(peer interfaces.Peer, data []byte) {
	if r.limiter != nil && !r.limiter.Allow(peer.UserID()) {
		metrics.RecordFrameError(metrics.KindRateLimited)
		r.replyError(peer, types.ErrRateLimited)
		return
	}

	frame, err := types.DecodeInbound(data)
	if err != nil {
		var unknown *types.UnknownTypeError
		switch {
		case errors.As(err, &unknown):
			metrics.RecordFrameError(metrics.KindUnknownType)
		case errors.Is(err, types.ErrInvalidMessageFormat):
			metrics.RecordFrameError(metrics.KindValidation)
		default:
			metrics.RecordFrameError(metrics.KindParse)
		}
		r.replyError(peer, err)
		return
	}

	if err := types.Validate(frame); err != nil {
		metrics.RecordFrameError(metrics.KindValidation)
		r.replyError(peer, err)
		return
	}

	metrics.RecordFrame(frame.FrameType())

	// TECHNICAL DISCOVERY: Inbound is sealed to pkg/types, so this switch and
	// DecodeInbound name the same closed set; default is unreachable
	switch f := frame.(type) {
	case *types.ChatMessageFrame:
		r.handleChat(peer, f)
	case *types.TypingStatusFrame:
		r.handleTyping(peer, f)
	case *types.MessageReadFrame:
		r.handleRead(peer, f)
	case *types.TopicChangeFrame:
		r.handleTopicChange(peer, f)
	case *types.PingFrame:
		r.handlePing(peer, f)
	default:
		r.replyError(peer, &types.UnknownTypeError{Type: frame.FrameType()})
	}
}

// handleChat broadcasts NEW_MESSAGE to the scope and confirms to the sender
// FUNCTIONAL DISCOVERY: The caller's id is kept when present so the record
// matches what the persistence layer stored
func (r *Router) handleChat(peer interfaces.Peer, f *types.ChatMessageFrame) {
	scope := peer.Scope()

	id := f.Message.ID
	if id == "" {
		id = r.newID()
	}

	record := types.ChatRecord{
		ID:        id,
		SenderID:  peer.UserID(),
		Content:   f.Message.Content,
		Timestamp: r.presence.Now().UTC(),
		ScopeType: scope.Type,
		ScopeID:   scope.ID,
	}

	r.broadcaster.Broadcast(scope, types.NewNewMessage(record))
	r.reply(peer, types.NewMessageDelivered(id))
}

func (r *Router) handleTyping(peer interfaces.Peer, f *types.TypingStatusFrame) {
	scope := peer.Scope()
	userID := peer.UserID()

	if f.IsTyping {
		r.presence.SetTyping(userID, scope)
	} else {
		r.presence.ClearTyping(userID)
	}

	r.broadcaster.Broadcast(scope, types.NewTypingUpdate(userID, f.IsTyping, r.presence.TypingIn(scope)))
}

func (r *Router) handleRead(peer interfaces.Peer, f *types.MessageReadFrame) {
	r.broadcaster.Broadcast(peer.Scope(), types.NewMessageRead(f.MessageID, peer.UserID()))
}

// handleTopicChange always targets the group with the socket's scope id.
// FUNCTIONAL DISCOVERY: Topic changes are a group concept; a conversation
// socket sending one still reaches the group of the same id, which is logged
// so the case can be spotted.
func (r *Router) handleTopicChange(peer interfaces.Peer, f *types.TopicChangeFrame) {
	scope := peer.Scope()
	if scope.Type != types.ScopeGroups {
		r.logger.Warn().
			Str("user_id", peer.UserID()).
			Str("scope_type", string(scope.Type)).
			Str("scope_id", scope.ID).
			Msg("topic change received on non-group socket")
	}

	topic := types.Topic{
		Topic: f.Topic,
		SetBy: peer.UserID(),
		SetAt: r.presence.Now().UTC(),
	}
	r.broadcaster.Broadcast(types.Scope{Type: types.ScopeGroups, ID: scope.ID}, types.NewTopicChanged(topic))
}

func (r *Router) handlePing(peer interfaces.Peer, f *types.PingFrame) {
	// A lost entry is only rebuilt from the primary socket, whose scope
	// is the one presence is reported in
	if userID := peer.UserID(); userID != "" && !r.presence.Touch(userID) && r.primary(peer) {
		r.presence.MarkOnline(userID, peer.Scope())
	}
	r.reply(peer, types.NewPong(f.Timestamp))
}

func (r *Router) primary(peer interfaces.Peer) bool {
	return r.isPrimary == nil || r.isPrimary(peer)
}

func (r *Router) replyError(peer interfaces.Peer, err error) {
	r.logger.Debug().Err(err).Str("user_id", peer.UserID()).Msg("rejecting frame")
	r.reply(peer, types.NewError(err.Error()))
}

func (r *Router) reply(peer interfaces.Peer, frame interface{}) {
	if err := peer.WriteJSON(frame); err != nil {
		r.logger.Debug().Err(err).Str("user_id", peer.UserID()).Msg("failed to reply to sender")
	}
}
