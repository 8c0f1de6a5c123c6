package types

import (
	"time"
)

// ScopeType names the broadcast domain a socket subscribes to.
// ARCHITECTURAL DISCOVERY: Only two domains exist; the URL path is the single
// source of truth and it is classified once per connection.
type ScopeType string

const (
	ScopeConversations ScopeType = "conversations"
	ScopeGroups        ScopeType = "groups"
)

// Valid reports whether the scope type is one of the two known domains.
func (t ScopeType) Valid() bool {
	return t == ScopeConversations || t == ScopeGroups
}

// Scope identifies a single conversation or group.
type Scope struct {
	Type ScopeType `json:"scopeType"`
	ID   string    `json:"scopeId"`
}

func (s Scope) String() string {
	return string(s.Type) + "/" + s.ID
}

// Inbound message type tags
const (
	MessageTypeChat        = "CHAT_MESSAGE"
	MessageTypeTyping      = "TYPING_STATUS"
	MessageTypeRead        = "MESSAGE_READ"
	MessageTypeTopicChange = "GROUP_TOPIC_CHANGE"
	MessageTypePing        = "PING"
)

// Outbound message type tags
const (
	FrameConnectionEstablished = "CONNECTION_ESTABLISHED"
	FrameConnectionError       = "CONNECTION_ERROR"
	FrameNewMessage            = "NEW_MESSAGE"
	FrameMessageDelivered      = "MESSAGE_DELIVERED"
	FrameTypingUpdate          = "TYPING_UPDATE"
	FrameMessageRead           = "MESSAGE_READ"
	FrameTopicChanged          = "TOPIC_CHANGED"
	FramePong                  = "PONG"
	FrameUserStatusUpdate      = "USER_STATUS_UPDATE"
	FrameError                 = "ERROR"
)

// ChatRecord is the ephemeral message fanned out to a scope.
// FUNCTIONAL DISCOVERY: The record is never stored by this layer; the id is
// whatever the caller supplied, or a generated UUID.
type ChatRecord struct {
	ID        string    `json:"id" validate:"required,max=128"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	ScopeType ScopeType `json:"scopeType"`
	ScopeID   string    `json:"scopeId"`
}

// ConnectionEstablished is the snapshot sent once a socket is registered.
type ConnectionEstablished struct {
	Type        string    `json:"type"`
	EntityType  ScopeType `json:"entityType"`
	EntityID    string    `json:"entityId"`
	UserID      string    `json:"userId"`
	OnlineUsers []string  `json:"onlineUsers"`
	TypingUsers []string  `json:"typingUsers"`
}

func NewConnectionEstablished(scope Scope, userID string, online, typing []string) ConnectionEstablished {
	return ConnectionEstablished{
		Type:        FrameConnectionEstablished,
		EntityType:  scope.Type,
		EntityID:    scope.ID,
		UserID:      userID,
		OnlineUsers: nonNil(online),
		TypingUsers: nonNil(typing),
	}
}

// MessageFrame carries a single human readable message; used for both
// CONNECTION_ERROR and ERROR.
type MessageFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnectionError(message string) MessageFrame {
	return MessageFrame{Type: FrameConnectionError, Message: message}
}

func NewError(message string) MessageFrame {
	return MessageFrame{Type: FrameError, Message: message}
}

type NewMessage struct {
	Type    string     `json:"type"`
	Message ChatRecord `json:"message"`
}

func NewNewMessage(record ChatRecord) NewMessage {
	return NewMessage{Type: FrameNewMessage, Message: record}
}

type MessageDelivered struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

func NewMessageDelivered(messageID string) MessageDelivered {
	return MessageDelivered{Type: FrameMessageDelivered, MessageID: messageID}
}

type TypingUpdate struct {
	Type        string   `json:"type"`
	UserID      string   `json:"userId"`
	IsTyping    bool     `json:"isTyping"`
	TypingUsers []string `json:"typingUsers"`
}

func NewTypingUpdate(userID string, isTyping bool, typing []string) TypingUpdate {
	return TypingUpdate{
		Type:        FrameTypingUpdate,
		UserID:      userID,
		IsTyping:    isTyping,
		TypingUsers: nonNil(typing),
	}
}

type MessageRead struct {
	Type      string `json:"type"`
	MessageID any    `json:"messageId"`
	UserID    string `json:"userId"`
}

func NewMessageRead(messageID any, userID string) MessageRead {
	return MessageRead{Type: FrameMessageRead, MessageID: messageID, UserID: userID}
}

// Topic is the group topic as announced to members.
type Topic struct {
	Topic string    `json:"topic"`
	SetBy string    `json:"setBy"`
	SetAt time.Time `json:"setAt"`
}

type TopicChanged struct {
	Type  string `json:"type"`
	Topic Topic  `json:"topic"`
}

func NewTopicChanged(topic Topic) TopicChanged {
	return TopicChanged{Type: FrameTopicChanged, Topic: topic}
}

type Pong struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp"`
}

func NewPong(timestamp any) Pong {
	return Pong{Type: FramePong, Timestamp: timestamp}
}

// UserStatusUpdate announces a presence transition. OnlineUsers is omitted
// when the sender did not recompute the scope's list; a recomputed empty
// list is still sent as [].
type UserStatusUpdate struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	IsOnline    bool      `json:"isOnline"`
	OnlineUsers *[]string `json:"onlineUsers,omitempty"`
}

// NewUserStatusUpdate builds the frame; a nil online list means "not
// recomputed" and leaves the field out.
func NewUserStatusUpdate(userID string, isOnline bool, online []string) UserStatusUpdate {
	update := UserStatusUpdate{
		Type:     FrameUserStatusUpdate,
		UserID:   userID,
		IsOnline: isOnline,
	}
	if online != nil {
		update.OnlineUsers = &online
	}
	return update
}

// nonNil keeps JSON arrays as [] rather than null
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
