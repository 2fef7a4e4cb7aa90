// Package httpx holds the JSON response helpers shared by the HTTP surfaces.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// WriteJSON writes a JSON response with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSONError writes {"error": message} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteError maps err to a status with StatusOf and writes it as a JSON error.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)

	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}

	WriteJSONError(w, status, msg)
}

// StatusOf maps relay error codes to HTTP statuses.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, berr.ErrDecode), errors.Is(err, berr.ErrUnknownCommand), errors.Is(err, berr.ErrSerializationFailed):
		return http.StatusBadRequest
	case errors.Is(err, berr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, berr.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, berr.ErrBrokerUnavailable), errors.Is(err, berr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
