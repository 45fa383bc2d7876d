package models

import (
	"errors"
	"fmt"
)

// ErrorKind categorises an Error.
type ErrorKind string

const (
	// ErrKindIdentity marks an unresolvable channel identity. Not retriable.
	ErrKindIdentity ErrorKind = "identity"
	// ErrKindConnection marks a live-channel failure.
	ErrKindConnection ErrorKind = "connection"
	// ErrKindFormat marks a malformed history payload or frame.
	ErrKindFormat ErrorKind = "format"
	// ErrKindDispatch marks an outbound message that no path accepted.
	ErrKindDispatch ErrorKind = "dispatch"
)

var (
	ErrIdentity   = errors.New("identity error")
	ErrConnection = errors.New("connection error")
	ErrFormat     = errors.New("format error")
	ErrDispatch   = errors.New("dispatch error")
)

// Error is a categorised error surfaced by the sync core.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels so callers can use errors.Is(err, ErrFormat).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrIdentity:
		return e.Kind == ErrKindIdentity
	case ErrConnection:
		return e.Kind == ErrKindConnection
	case ErrFormat:
		return e.Kind == ErrKindFormat
	case ErrDispatch:
		return e.Kind == ErrKindDispatch
	}
	return false
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
