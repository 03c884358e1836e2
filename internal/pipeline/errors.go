package pipeline

import (
	"net/http"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/auth"
)

// Stable error codes surfaced in the response envelope.
const (
	CodeInvalidSignature    = "invalid_signature"
	CodeReplayViolation     = "replay_violation"
	CodeMissingHeader       = "missing_header"
	CodeMalformedHeader     = "malformed_header"
	CodeForbiddenSource     = "forbidden_source"
	CodePayloadTooLarge     = "payload_too_large"
	CodeMalformedPayload    = "malformed_payload"
	CodeSchemaInvalid       = "schema_invalid"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeRateLimited         = "rate_limited"
	CodeLogUnavailable      = "log_unavailable"
	CodeInternal            = "internal_error"
)

// Error is a terminal pipeline failure. None of these are retried server
// side; RetryAfter is set only for the two transient kinds.
type Error struct {
	Code          string
	Status        int
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	Details       map[string]any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func terminal(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// fromAuthError maps authenticator failures onto the HTTP surface:
// signature and replay problems are 401, header and allow-list problems
// are 400, oversized payloads are 413.
func fromAuthError(err *auth.Error) *Error {
	switch err.Reason {
	case auth.ReasonInvalidSignature:
		return terminal(CodeInvalidSignature, http.StatusUnauthorized, err.Message)
	case auth.ReasonReplayViolation:
		return terminal(CodeReplayViolation, http.StatusUnauthorized, err.Message)
	case auth.ReasonMissingHeader:
		return terminal(CodeMissingHeader, http.StatusBadRequest, err.Message)
	case auth.ReasonMalformedHeader:
		return terminal(CodeMalformedHeader, http.StatusBadRequest, err.Message)
	case auth.ReasonPayloadTooLarge:
		return terminal(CodePayloadTooLarge, http.StatusRequestEntityTooLarge, err.Message)
	case auth.ReasonForbiddenSource:
		return terminal(CodeForbiddenSource, http.StatusBadRequest, err.Message)
	default:
		return terminal(CodeInternal, http.StatusInternalServerError, err.Message)
	}
}
