package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: Frame failures carry the text that is sent back to
// the client verbatim, so the messages here are user visible.
var (
	ErrInvalidMessageFormat = errors.New("Invalid message format")
	ErrAuthenticationFailed = errors.New("Authentication failed")
	ErrInvalidPath          = errors.New("Invalid connection path")
	ErrRateLimited          = errors.New("Rate limit exceeded")
)

// ParseError reports a frame that is not a JSON object.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "Invalid JSON message"
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShapeError reports a known frame type whose fields have the wrong JSON
// types. It is answered like any other invalid payload.
type ShapeError struct {
	Type string
	Err  error
}

func (e *ShapeError) Error() string {
	return ErrInvalidMessageFormat.Error()
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrInvalidMessageFormat
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// UnknownTypeError reports a well-formed frame whose type tag is not registered.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("Unknown message type: %s", e.Type)
}
