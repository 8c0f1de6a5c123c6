package types

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Validator caches struct metadata, so one instance is
// shared by every connection.
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags on an inbound frame or record. Any violation is
// reported as ErrInvalidMessageFormat.
func Validate(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		return ErrInvalidMessageFormat
	}
	return nil
}

// ClassifyPath turns the socket URL path into a scope. The path may carry a
// leading "/ws" mount prefix; what remains must be exactly
// {conversations|groups}/{id}. Group scopes additionally need a user id.
func ClassifyPath(path, userID string) (Scope, error) {
	segments := make([]string, 0, 3)
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) > 0 && segments[0] == "ws" {
		segments = segments[1:]
	}
	if len(segments) != 2 {
		return Scope{}, ErrInvalidPath
	}

	scope := Scope{Type: ScopeType(segments[0]), ID: segments[1]}
	switch scope.Type {
	case ScopeConversations:
		return scope, nil
	case ScopeGroups:
		if userID == "" {
			return Scope{}, ErrInvalidPath
		}
		return scope, nil
	default:
		return Scope{}, ErrInvalidPath
	}
}
