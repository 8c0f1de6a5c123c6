package types

import (
	"github.com/goccy/go-json"
)

// Inbound is the closed set of frames a client may send. Only types in this
// package implement it, so the dispatcher's type switch is exhaustive.
type Inbound interface {
	FrameType() string
	sealed()
}

// ChatMessageFrame is CHAT_MESSAGE{message:{content, id?}}.
type ChatMessageFrame struct {
	Message ChatContent `json:"message"`
}

// ChatContent is the client supplied part of a chat message.
// TECHNICAL DISCOVERY: An optional client id lets the persistence layer own
// message identity; the server generates one only when it is absent.
type ChatContent struct {
	ID      string `json:"id,omitempty" validate:"omitempty,max=128"`
	Content string `json:"content" validate:"required"`
}

// TypingStatusFrame is TYPING_STATUS{isTyping}.
type TypingStatusFrame struct {
	IsTyping bool `json:"isTyping"`
}

// MessageReadFrame is MESSAGE_READ{messageId}. The id is echoed untouched.
type MessageReadFrame struct {
	MessageID any `json:"messageId"`
}

// TopicChangeFrame is GROUP_TOPIC_CHANGE{topic}.
type TopicChangeFrame struct {
	Topic string `json:"topic" validate:"max=500"`
}

// PingFrame is PING{timestamp}; the timestamp is client time, echoed as is.
type PingFrame struct {
	Timestamp any `json:"timestamp"`
}

func (*ChatMessageFrame) FrameType() string  { return MessageTypeChat }
func (*TypingStatusFrame) FrameType() string { return MessageTypeTyping }
func (*MessageReadFrame) FrameType() string  { return MessageTypeRead }
func (*TopicChangeFrame) FrameType() string  { return MessageTypeTopicChange }
func (*PingFrame) FrameType() string         { return MessageTypePing }

func (*ChatMessageFrame) sealed()  {}
func (*TypingStatusFrame) sealed() {}
func (*MessageReadFrame) sealed()  {}
func (*TopicChangeFrame) sealed()  {}
func (*PingFrame) sealed()         {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses a raw text frame into its concrete inbound type.
// Malformed JSON yields *ParseError, an unrecognised tag *UnknownTypeError
// and mistyped fields on a known tag *ShapeError.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Err: err}
	}

	var frame Inbound
	switch env.Type {
	case MessageTypeChat:
		frame = &ChatMessageFrame{}
	case MessageTypeTyping:
		frame = &TypingStatusFrame{}
	case MessageTypeRead:
		frame = &MessageReadFrame{}
	case MessageTypeTopicChange:
		frame = &TopicChangeFrame{}
	case MessageTypePing:
		frame = &PingFrame{}
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, &ShapeError{Type: env.Type, Err: err}
	}
	return frame, nil
}

// Encode serialises an outbound frame. Every writer in the process goes
// through here so the wire format has a single codec.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
