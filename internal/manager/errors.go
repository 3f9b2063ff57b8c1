package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"embedd/internal/backend"
	"embedd/internal/queue"
)

// validationError rejects a request before any of its inputs is enqueued.
type validationError struct {
	msg     string
	tooLong bool
}

func (e validationError) Error() string { return e.msg }

// StatusCode is 413 for over-long inputs and 400 otherwise.
func (e validationError) StatusCode() int {
	if e.tooLong {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func ErrValidation(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

// ErrTooLong reports input i with n tokens over the max.
func ErrTooLong(i, n, max int) error {
	return validationError{
		msg:     fmt.Sprintf("input %d has %d tokens, more than max_input_length %d; set truncate to true to shorten it", i, n, max),
		tooLong: true,
	}
}

// IsValidation reports whether err is a client input error, including an
// entry refused by the oversize policy.
func IsValidation(err error) bool {
	var e validationError
	return errors.As(err, &e) || queue.IsOversized(err)
}

// Retryable reports whether the same request may succeed later: capacity and
// lifecycle conditions are retryable, client-caused failures are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsValidation(err), backend.IsInvalidInput(err):
		return false
	case queue.IsQueueFull(err), queue.IsClosed(err), backend.IsOutOfMemory(err), backend.IsDependencyUnavailable(err):
		return true
	}
	if r, ok := queue.CancelReasonOf(err); ok {
		return r == queue.ReasonDeadline
	}
	return false
}

// contextErr converts a client context error into the queue's cancellation
// taxonomy so callers see one error family.
func contextErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return queue.ErrCancelled(queue.ReasonDeadline)
	case errors.Is(err, context.Canceled):
		return queue.ErrCancelled(queue.ReasonClient)
	}
	return err
}
