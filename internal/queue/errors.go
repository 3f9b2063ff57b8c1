package queue

import (
	"errors"
	"fmt"
	"net/http"
)

// queueFullError signals immediate backpressure (429).
type queueFullError struct{ limit int }

func (e queueFullError) Error() string {
	return fmt.Sprintf("queue full: %d entries pending", e.limit)
}

func (e queueFullError) StatusCode() int { return http.StatusTooManyRequests }

// ErrQueueFull constructs the error returned by Enqueue when the pending
// count has reached limit.
func ErrQueueFull(limit int) error { return queueFullError{limit: limit} }

// IsQueueFull reports whether err is a queue-full rejection.
func IsQueueFull(err error) bool {
	var e queueFullError
	return errors.As(err, &e)
}

// CancelReason records why a pending entry was withdrawn.
type CancelReason string

const (
	ReasonClient   CancelReason = "client"
	ReasonDeadline CancelReason = "deadline"
)

type cancelledError struct{ reason CancelReason }

func (e cancelledError) Error() string {
	if e.reason == ReasonDeadline {
		return "cancelled: queue deadline exceeded"
	}
	return "cancelled: " + string(e.reason)
}

// StatusCode is 504 for an expired queue deadline and 499 (client closed
// request) otherwise.
func (e cancelledError) StatusCode() int {
	if e.reason == ReasonDeadline {
		return http.StatusGatewayTimeout
	}
	return 499
}

func ErrCancelled(reason CancelReason) error { return cancelledError{reason: reason} }

// IsCancelled reports whether err resolved a cancelled or expired entry.
func IsCancelled(err error) bool {
	var e cancelledError
	return errors.As(err, &e)
}

// CancelReasonOf extracts the reason from a cancellation error.
func CancelReasonOf(err error) (CancelReason, bool) {
	var e cancelledError
	if errors.As(err, &e) {
		return e.reason, true
	}
	return "", false
}

// closedError is returned once the scheduler has stopped.
type closedError struct{}

func (closedError) Error() string   { return "queue closed" }
func (closedError) StatusCode() int { return http.StatusServiceUnavailable }

func ErrClosed() error { return closedError{} }

func IsClosed(err error) bool {
	var e closedError
	return errors.As(err, &e)
}

// oversizedError rejects a single entry longer than the batch token budget
// when the oversize policy is "reject".
type oversizedError struct{ tokens, limit int }

func (e oversizedError) Error() string {
	return fmt.Sprintf("input of %d tokens exceeds max_batch_tokens %d", e.tokens, e.limit)
}

func (e oversizedError) StatusCode() int { return http.StatusRequestEntityTooLarge }

func ErrOversized(tokens, limit int) error { return oversizedError{tokens: tokens, limit: limit} }

func IsOversized(err error) bool {
	var e oversizedError
	return errors.As(err, &e)
}
