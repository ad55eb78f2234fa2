// Package apperr defines the typed failures returned by the gateway core.
//
// Every rejected operation yields an *Error carrying a Kind plus enough
// context (entity, id, limit) for a transport to render a client message.
// Callers match kinds with errors.Is against the sentinel values:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindCapacityExceeded
	KindNotAllowed
	KindLaunchFailed
	KindTimeout
	KindInvalid
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindNotAllowed:
		return "not_allowed"
	case KindLaunchFailed:
		return "launch_failed"
	case KindTimeout:
		return "timeout"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrNotAllowed       = &Error{Kind: KindNotAllowed}
	ErrLaunchFailed     = &Error{Kind: KindLaunchFailed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

// Error is a classified failure
type Error struct {
	Kind   Kind
	Entity string // "instance", "session", "application", ...
	ID     string
	Limit  int // set for KindCapacityExceeded
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg = e.Entity + " " + msg
	}
	if e.ID != "" {
		msg += fmt.Sprintf(": %s", e.ID)
	}
	if e.Kind == KindCapacityExceeded && e.Limit > 0 {
		msg += fmt.Sprintf(" (limit %d)", e.Limit)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind only, so sentinels compare equal to any error of that kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound reports an unknown id
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

// Forbidden reports an authenticated caller lacking rights on the entity
func Forbidden(entity, id string) *Error {
	return &Error{Kind: KindForbidden, Entity: entity, ID: id}
}

// CapacityExceeded reports a resource limit
func CapacityExceeded(entity, id string, limit int) *Error {
	return &Error{Kind: KindCapacityExceeded, Entity: entity, ID: id, Limit: limit}
}

// NotAllowed reports a policy rejection
func NotAllowed(entity, id string) *Error {
	return &Error{Kind: KindNotAllowed, Entity: entity, ID: id}
}

// LaunchFailed wraps a spawn-time OS error
func LaunchFailed(name string, err error) *Error {
	return &Error{Kind: KindLaunchFailed, Entity: "application", ID: name, Err: err}
}

// Timeout reports an exceeded wait
func Timeout(entity, id string, err error) *Error {
	return &Error{Kind: KindTimeout, Entity: entity, ID: id, Err: err}
}

// Invalid reports a malformed argument
func Invalid(entity, id string, err error) *Error {
	return &Error{Kind: KindInvalid, Entity: entity, ID: id, Err: err}
}

// KindOf extracts the kind of err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status a REST transport should answer with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindNotAllowed:
		return http.StatusForbidden
	case KindCapacityExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
