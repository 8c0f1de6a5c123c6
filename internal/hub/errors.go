package hub

import "errors"

// Hub-related errors
var (
	ErrNilRegistry       = errors.New("hub requires a connection registry")
	ErrInvalidReapPeriod = errors.New("reaper interval and TTLs must be positive")
)
