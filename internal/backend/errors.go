package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a batch-level failure.
type ErrorKind int

const (
	Internal ErrorKind = iota
	OutOfMemory
	InvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case OutOfMemory:
		return "out_of_memory"
	case InvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error is returned by a Backend for a whole batch. The scheduler delivers the
// same value to every member of the failed batch.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("backend %s: %s", e.Kind, e.Msg) }

// StatusCode maps the failure to an HTTP status: client-caused input errors are
// 400, capacity exhaustion is 503, everything else 500.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case InvalidInput:
		return http.StatusBadRequest
	case OutOfMemory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrInternal, ErrOutOfMemory and ErrInvalidInput construct classified errors.
func ErrInternal(format string, args ...any) error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, args...)}
}

func ErrOutOfMemory(format string, args ...any) error {
	return &Error{Kind: OutOfMemory, Msg: fmt.Sprintf(format, args...)}
}

func ErrInvalidInput(format string, args ...any) error {
	return &Error{Kind: InvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// Classify returns err as a *Error, wrapping unclassified errors as Internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: Internal, Msg: err.Error()}
}

// KindOf reports the ErrorKind of err and whether err is a backend error.
func KindOf(err error) (ErrorKind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return Internal, false
}

// IsOutOfMemory reports whether err is a backend out-of-memory failure.
func IsOutOfMemory(err error) bool {
	k, ok := KindOf(err)
	return ok && k == OutOfMemory
}

// IsInvalidInput reports whether err is a backend invalid-input failure.
func IsInvalidInput(err error) bool {
	k, ok := KindOf(err)
	return ok && k == InvalidInput
}

// dependencyUnavailableError signals a missing external dependency (e.g., llama.cpp)
// so the HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
