// Package httputil provides JSON response helpers and the shared error
// envelope for the gateway's HTTP surface.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ErrorEnvelope is the shape shared by every error response.
type ErrorEnvelope struct {
	Error         string         `json:"error"`
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Details       map[string]any `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// WriteError writes the shared error envelope. retryAfter > 0 adds a
// Retry-After header for transient failures.
func WriteError(w http.ResponseWriter, status int, code, message, correlationID string, retryAfter time.Duration, details map[string]any) {
	if retryAfter > 0 {
		seconds := int(retryAfter / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	WriteJSON(w, status, ErrorEnvelope{
		Error:         http.StatusText(status),
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Details:       details,
	})
}
