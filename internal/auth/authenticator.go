// Package auth verifies inbound webhook requests: payload gates, timestamp
// freshness, nonce replay protection, HMAC signature, and source allow-list.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
	"github.com/tradeflow-systems/signal-gateway/internal/store"
)

// Reason identifies why authentication failed.
type Reason string

const (
	ReasonMissingHeader    Reason = "missing_header"
	ReasonMalformedHeader  Reason = "malformed_header"
	ReasonPayloadTooLarge  Reason = "payload_too_large"
	ReasonReplayViolation  Reason = "replay_violation"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonForbiddenSource  Reason = "forbidden_source"
)

// Error is a typed authentication failure.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Reason, e.Message)
}

func failf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Headers are the authentication-relevant request headers, extracted by
// the HTTP layer.
type Headers struct {
	Signature      string
	Timestamp      string
	Nonce          string
	IdempotencyKey string
	APIVersion     string
	ContentType    string
}

// Config holds the authenticator's immutable settings.
type Config struct {
	// Secret is the shared HMAC-SHA256 key.
	Secret string

	// ReplayWindow is how far in the past a request timestamp may lie.
	ReplayWindow time.Duration

	// ClockSkew is the tolerance applied on both window edges.
	ClockSkew time.Duration

	// MaxBodyBytes rejects oversized payloads before any crypto work.
	MaxBodyBytes int

	// AllowedSources is the explicit source allow-list.
	AllowedSources []string
}

// supportedAPIVersion is the only contract version this gateway speaks.
const supportedAPIVersion = "1.0"

// Authenticator validates requests against the shared secret and the
// nonce replay store.
type Authenticator struct {
	secret  []byte
	window  time.Duration
	skew    time.Duration
	maxBody int
	allowed map[string]struct{}
	nonces  store.KV
}

// New constructs an Authenticator backed by the given nonce store.
func New(cfg Config, nonces store.KV) *Authenticator {
	allowed := make(map[string]struct{}, len(cfg.AllowedSources))
	for _, s := range cfg.AllowedSources {
		allowed[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	return &Authenticator{
		secret:  []byte(cfg.Secret),
		window:  cfg.ReplayWindow,
		skew:    cfg.ClockSkew,
		maxBody: cfg.MaxBodyBytes,
		allowed: allowed,
		nonces:  nonces,
	}
}

// Authenticate runs the verification steps in order, short-circuiting on
// the first failure. A nonce accepted as fresh is recorded even if a later
// step rejects the request, so a failed-but-fresh request can never be
// replayed.
func (a *Authenticator) Authenticate(ctx context.Context, source string, body []byte, h Headers, now time.Time) error {
	// Step 1: payload gates before any cryptographic work.
	if mediaType(h.ContentType) != "application/json" {
		return failf(ReasonMalformedHeader, "unsupported content type %q", h.ContentType)
	}
	if a.maxBody > 0 && len(body) > a.maxBody {
		return failf(ReasonPayloadTooLarge, "payload of %d bytes exceeds limit of %d", len(body), a.maxBody)
	}
	if h.APIVersion != "" && h.APIVersion != supportedAPIVersion {
		return failf(ReasonMalformedHeader, "unsupported API version %q", h.APIVersion)
	}

	// Step 2: timestamp freshness.
	if h.Timestamp == "" {
		return failf(ReasonMissingHeader, "missing timestamp header")
	}
	ts, err := parseTimestamp(h.Timestamp)
	if err != nil {
		return failf(ReasonMalformedHeader, "unparseable timestamp %q", h.Timestamp)
	}
	if ts.Before(now.Add(-a.window-a.skew)) || ts.After(now.Add(a.skew)) {
		metrics.ReplaysRejected.WithLabelValues(source).Inc()
		return failf(ReasonReplayViolation, "timestamp outside replay window")
	}

	// Step 3: nonce uniqueness. The check and the insert are a single
	// atomic operation so two in-flight requests with the same nonce
	// cannot both pass.
	if h.Nonce == "" {
		return failf(ReasonMissingHeader, "missing nonce header")
	}
	nonceKey := "nonce:" + source + ":" + h.Nonce
	_, inserted, err := a.nonces.CheckAndInsert(ctx, nonceKey, []byte(h.Timestamp), a.window+a.skew)
	if err != nil {
		return fmt.Errorf("nonce store: %w", err)
	}
	if !inserted {
		metrics.ReplaysRejected.WithLabelValues(source).Inc()
		return failf(ReasonReplayViolation, "nonce already seen within window")
	}

	// Step 4: signature over the exact raw body bytes, compared in
	// constant time.
	if h.Signature == "" {
		return failf(ReasonMissingHeader, "missing signature header")
	}
	if !a.verifySignature(body, h.Signature) {
		metrics.AuthFailures.WithLabelValues(source, string(ReasonInvalidSignature)).Inc()
		return failf(ReasonInvalidSignature, "signature does not match payload")
	}

	// Step 5: source allow-list.
	if _, ok := a.allowed[strings.ToLower(source)]; !ok {
		metrics.AuthFailures.WithLabelValues(source, string(ReasonForbiddenSource)).Inc()
		return failf(ReasonForbiddenSource, "source %q is not allowed", source)
	}

	return nil
}

// Sign computes the hex HMAC-SHA256 signature for a payload. Exposed for
// tests and client tooling.
func (a *Authenticator) Sign(body []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Authenticator) verifySignature(body []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// parseTimestamp accepts unix seconds (fractional allowed) or RFC3339.
func parseTimestamp(raw string) (time.Time, error) {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(secs)
		nsec := int64((secs - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func mediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
