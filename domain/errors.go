package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether a connection
// survives them and what the client is told.
type Kind string

const (
	KindAuth          Kind = "AuthError"
	KindAuthorization Kind = "AuthorizationError"
	KindNotFound      Kind = "NotFound"
	KindValidation    Kind = "ValidationError"
	KindStorage       Kind = "StorageError"
)

// Error is the typed failure returned by handlers, the positioning engine and the handshake.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind-only sentinels such as ErrNotFound against any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrStorage         = &Error{Kind: KindStorage}
	ErrUnauthorized    = &Error{Kind: KindAuthorization}
	ErrUnauthenticated = &Error{Kind: KindAuth}

	ErrTokenExpired = &Error{Kind: KindAuth, Message: "Token has expired"}
	ErrInvalidToken = &Error{Kind: KindAuth, Message: "Invalid token"}
	ErrMissingToken = &Error{Kind: KindAuth, Message: "Unauthorized: Invalid or missing token"}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a collaborator failure. Already-typed errors pass through unchanged.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStorage, Err: err}
}

// KindOf reports the kind of err. Untyped errors count as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}

// PublicMessage is the text sent to clients. Storage details never leave the process.
func PublicMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) || de.Kind == KindStorage {
		return "Internal storage error"
	}
	if de.Message != "" {
		return de.Message
	}
	return string(de.Kind)
}
