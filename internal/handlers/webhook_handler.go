// Package handlers exposes the gateway's HTTP surface.
package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/auth"
	"github.com/tradeflow-systems/signal-gateway/internal/httputil"
	"github.com/tradeflow-systems/signal-gateway/internal/logging"
	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
	"github.com/tradeflow-systems/signal-gateway/internal/pipeline"
	"github.com/tradeflow-systems/signal-gateway/internal/publish"
)

// AcceptedResponse is the 202 body returned for accepted submissions.
type AcceptedResponse struct {
	Status         string   `json:"status"`
	CorrelationID  string   `json:"corr_id"`
	IdempotencyKey string   `json:"idempotency_key"`
	Duplicate      bool     `json:"duplicate"`
	Warnings       []string `json:"warnings,omitempty"`
}

// WebhookHandler serves the webhook and health endpoints.
type WebhookHandler struct {
	pipeline  *pipeline.Pipeline
	publisher *publish.Publisher
	log       *logging.Logger
	maxBody   int64
}

// NewWebhookHandler constructs the handler. maxBody bounds how much of a
// request body is ever read; the authenticator enforces the exact limit.
func NewWebhookHandler(p *pipeline.Pipeline, pub *publish.Publisher, log *logging.Logger, maxBody int) *WebhookHandler {
	return &WebhookHandler{
		pipeline:  p,
		publisher: pub,
		log:       log,
		maxBody:   int64(maxBody),
	}
}

// HandleWebhook processes POST /webhook/{source}.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	source := strings.ToLower(r.PathValue("source"))
	log := h.log.WithContext(r.Context())

	// Read at most one byte past the limit so oversized payloads are
	// detected without buffering arbitrarily large bodies.
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		log.Warn("failed to read request body",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		httputil.WriteError(w, http.StatusBadRequest, pipeline.CodeMalformedPayload,
			"failed to read request body", "", 0, nil)
		metrics.WebhooksReceived.WithLabelValues(source, "400").Inc()
		return
	}
	defer r.Body.Close()

	req := pipeline.Request{
		Source: source,
		Body:   body,
		Headers: auth.Headers{
			Signature:      r.Header.Get("X-Signature"),
			Timestamp:      r.Header.Get("X-Timestamp"),
			Nonce:          r.Header.Get("X-Nonce"),
			IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
			APIVersion:     r.Header.Get("X-API-Version"),
			ContentType:    r.Header.Get("Content-Type"),
		},
		ReceivedAt: start,
	}

	result, perr := h.pipeline.Process(r.Context(), req)

	metrics.RequestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if perr != nil {
		log.Warn("webhook rejected",
			slog.String("source", source),
			slog.String("code", perr.Code),
			slog.Int("status", perr.Status),
			slog.String("corr_id", perr.CorrelationID),
		)
		metrics.WebhooksReceived.WithLabelValues(source, strconv.Itoa(perr.Status)).Inc()
		httputil.WriteError(w, perr.Status, perr.Code, perr.Message, perr.CorrelationID, perr.RetryAfter, perr.Details)
		return
	}

	log.Debug("webhook accepted",
		slog.String("source", source),
		slog.String("corr_id", result.CorrelationID),
		slog.Bool("duplicate", result.Duplicate),
	)
	metrics.WebhooksReceived.WithLabelValues(source, "202").Inc()
	httputil.WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		Status:         "accepted",
		CorrelationID:  result.CorrelationID,
		IdempotencyKey: result.IdempotencyKey,
		Duplicate:      result.Duplicate,
		Warnings:       result.Warnings,
	})
}

// Health serves GET /healthz: process liveness only.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready serves GET /readyz: reports the publisher's state so orchestration
// can pull a fail-closed instance out of rotation.
func (h *WebhookHandler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.publisher.State()
	status := "ready"
	code := http.StatusOK
	if state == publish.StateBufferFull {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, code, map[string]any{
		"status":       status,
		"publisher":    state.String(),
		"buffer_depth": h.publisher.BufferDepth(),
	})
}
