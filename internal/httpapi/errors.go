package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"embedd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusClientClosed is the de-facto status for a request the client gave up on.
const statusClientClosed = 499

// statusOf returns the status carried by err, or 500.
func statusOf(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	}
	return http.StatusInternalServerError
}

// errorType names the error class reported in the "type" field.
func errorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "overloaded"
	case statusClientClosed:
		return "cancelled"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "backend"
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Type: errorType(status)})
}

// writeError maps err to its status and writes the payload. Overload
// rejections are counted as backpressure.
func writeError(w http.ResponseWriter, err error) int {
	status := statusOf(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(reasonQueueFull)
	}
	writeJSONError(w, status, err.Error())
	return status
}
