package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrLogClosed = errors.New("connection log is closed")
	ErrLogFull   = errors.New("connection log write queue is full")
)
