package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrConnectionNotIdentified = errors.New("connection must be identified before registration")
)

// Handler-related errors
var (
	ErrConnectionSetup = errors.New("connection setup failed")
)
