package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tradeflow-systems/signal-gateway/internal/handlers"
	"github.com/tradeflow-systems/signal-gateway/internal/middleware"
)

// NewRouter constructs a ServeMux with the gateway routes registered.
func NewRouter(h *handlers.WebhookHandler) http.Handler {
	mux := http.NewServeMux()

	// Webhook endpoints; /webhook/generic is the {source} route with
	// source "generic".
	mux.HandleFunc("POST /webhook/{source}", h.HandleWebhook)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
