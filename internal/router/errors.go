package router

import "errors"

// Router-specific errors
var (
	ErrNilBroadcaster = errors.New("router requires a broadcaster")
	ErrNilPresence    = errors.New("router requires a presence store")
)
