package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionTerminated is matched by every error that ended the session:
	// a failed refresh, or a 401 on an already retried request.
	ErrSessionTerminated = errors.New("session terminated")

	ErrNoRefreshToken    = errors.New("no refresh token available")
	ErrIncompleteSession = errors.New("session requires both access and refresh tokens")
	ErrRefreshAborted    = errors.New("token refresh aborted")
	ErrNotConfigured     = errors.New("token endpoint not configured")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrStorage           = errors.New("session storage failure")
)

// Kind is the user-facing class of an API failure
type Kind string

const (
	KindValidation     Kind = "validation"
	KindSessionExpired Kind = "session_expired"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindServer         Kind = "server"
	KindOther          Kind = "other"
	KindUnreachable    Kind = "unreachable"
)

// Classify maps an HTTP status code to a Kind
func Classify(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindSessionExpired
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusInternalServerError:
		return KindServer
	default:
		return KindOther
	}
}

// Message returns the text shown to the user for this kind of failure
func (k Kind) Message() string {
	switch k {
	case KindValidation:
		return "Some of the details you entered are invalid. Please check them and try again."
	case KindSessionExpired:
		return "Your session has expired. Please log in again."
	case KindForbidden:
		return "You do not have permission to do that."
	case KindNotFound:
		return "We couldn't find what you were looking for."
	case KindServer:
		return "Something went wrong on our side. Please try again later."
	case KindUnreachable:
		return "Unable to reach the server. Check your connection and try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// StatusError is returned for responses with a status code of 400 or above
type StatusError struct {
	StatusCode int
	Kind       Kind
	Method     string
	URL        string
	Body       []byte

	// Message is the server supplied description, if the body carried one
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
}

// RefreshError is returned to every caller that depended on a refresh that failed
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "token refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrSessionTerminated }

// RejectedError is returned when a request that was already replayed after a
// refresh is rejected with 401 again. Err holds the original *StatusError.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return "request rejected after token refresh: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool { return target == ErrSessionTerminated }

// UnreachableError is returned when no response was received at all
type UnreachableError struct {
	Method string
	URL    string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s %s: server unreachable: %v", e.Method, e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a StatusError (or UnreachableError) of the given kind
func IsKind(err error, kind Kind) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	var ue *UnreachableError
	if errors.As(err, &ue) {
		return kind == KindUnreachable
	}
	return false
}
