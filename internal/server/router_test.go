package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow-systems/signal-gateway/internal/auth"
	"github.com/tradeflow-systems/signal-gateway/internal/contract"
	"github.com/tradeflow-systems/signal-gateway/internal/handlers"
	"github.com/tradeflow-systems/signal-gateway/internal/idempotency"
	"github.com/tradeflow-systems/signal-gateway/internal/logging"
	"github.com/tradeflow-systems/signal-gateway/internal/normalize"
	"github.com/tradeflow-systems/signal-gateway/internal/pipeline"
	"github.com/tradeflow-systems/signal-gateway/internal/publish"
	"github.com/tradeflow-systems/signal-gateway/internal/ratelimit"
	"github.com/tradeflow-systems/signal-gateway/internal/store"
)

const testSecret = "router-test-secret"

type noopStream struct{}

func (noopStream) Publish(ctx context.Context, subject string, data []byte) error { return nil }
func (noopStream) Connected() bool                                                { return true }

func newTestServer(t *testing.T) (http.Handler, *auth.Authenticator) {
	t.Helper()

	kv := store.NewMemory(time.Hour)
	t.Cleanup(func() { kv.Close() })

	authenticator := auth.New(auth.Config{
		Secret:         testSecret,
		ReplayWindow:   5 * time.Minute,
		ClockSkew:      30 * time.Second,
		MaxBodyBytes:   65536,
		AllowedSources: []string{"tradingview", "generic"},
	}, kv)

	limiter := ratelimit.NewFixedWindow(100, time.Second)
	t.Cleanup(func() { limiter.Close() })

	log := logging.New(logging.ParseLevel("error"), "text")
	publisher := publish.New(noopStream{}, publish.Config{}, log.Logger)
	t.Cleanup(func() { publisher.Close() })

	pipe := pipeline.New(
		authenticator,
		limiter,
		idempotency.New(kv, time.Hour),
		normalize.NewRegistry(normalize.Generic{}, normalize.TradingView{}),
		contract.Default(),
		publisher,
		log.Logger,
		nil,
	)

	handler := handlers.NewWebhookHandler(pipe, publisher, log, 65536)
	return NewRouter(handler), authenticator
}

func signedPost(t *testing.T, a *auth.Authenticator, path string, body []byte, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", a.Sign(body))
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Nonce", nonce)
	return req
}

func TestRouterWebhookRoute(t *testing.T) {
	router, a := newTestServer(t)
	body := []byte(`{"ticker":"EURUSD","action":"buy","price":1.0945}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost(t, a, "/webhook/tradingview", body, "n1"))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/tradingview", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouterUnknownPath(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterHealthEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, a := newTestServer(t)

	// Drive one request through so the counters exist.
	body := []byte(`{"ticker":"EURUSD","action":"buy","price":1.0945}`)
	router.ServeHTTP(httptest.NewRecorder(), signedPost(t, a, "/webhook/tradingview", body, "m1"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	payload, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "gateway_webhooks_received_total")
}

func TestRouterSetsRequestID(t *testing.T) {
	router, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
