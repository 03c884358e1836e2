// Package pipeline sequences the ingress stages for one inbound request:
// authenticate, rate limit, deduplicate, publish raw, normalize, validate,
// publish normalized. Each stage short-circuits with a typed error.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/auth"
	"github.com/tradeflow-systems/signal-gateway/internal/contract"
	"github.com/tradeflow-systems/signal-gateway/internal/idempotency"
	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
	"github.com/tradeflow-systems/signal-gateway/internal/normalize"
	"github.com/tradeflow-systems/signal-gateway/internal/ratelimit"
	"github.com/tradeflow-systems/signal-gateway/pkg/signal"
)

// retryAfterLogDown is the hint returned with 503 responses; it tracks the
// reconnect loop's backoff ceiling.
const retryAfterLogDown = 10 * time.Second

// Publisher is the slice of the publish package the pipeline needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Request is one inbound webhook submission, immutable once received.
type Request struct {
	Source     string
	Body       []byte
	Headers    auth.Headers
	ReceivedAt time.Time
}

// Result is a successful acceptance.
type Result struct {
	CorrelationID  string
	IdempotencyKey string

	// Duplicate is true when an identical submission was already
	// accepted; nothing was republished.
	Duplicate bool

	// Warnings carries soft normalization failures for sources not in
	// strict mode.
	Warnings []string
}

// Pipeline is the composition root, one logical instance per request,
// safe for concurrent use.
type Pipeline struct {
	auth      *auth.Authenticator
	limiter   ratelimit.Limiter
	cache     *idempotency.Cache
	registry  *normalize.Registry
	contract  *contract.Chain
	publisher Publisher
	log       *slog.Logger
	strict    map[string]struct{}
}

// New wires the pipeline. strictSources lists sources whose normalization
// failures reject the whole request instead of degrading to a warning.
func New(
	authenticator *auth.Authenticator,
	limiter ratelimit.Limiter,
	cache *idempotency.Cache,
	registry *normalize.Registry,
	chain *contract.Chain,
	publisher Publisher,
	log *slog.Logger,
	strictSources []string,
) *Pipeline {
	strict := make(map[string]struct{}, len(strictSources))
	for _, s := range strictSources {
		strict[strings.ToLower(s)] = struct{}{}
	}
	return &Pipeline{
		auth:      authenticator,
		limiter:   limiter,
		cache:     cache,
		registry:  registry,
		contract:  chain,
		publisher: publisher,
		log:       log,
		strict:    strict,
	}
}

// Process runs the request through every stage and returns either an
// acceptance or the first terminal error.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, *Error) {
	// Received → Authenticated
	if err := p.auth.Authenticate(ctx, req.Source, req.Body, req.Headers, req.ReceivedAt); err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			p.log.Warn("authentication rejected",
				slog.String("source", req.Source),
				slog.String("reason", string(authErr.Reason)),
			)
			return nil, fromAuthError(authErr)
		}
		p.log.Error("authentication failed", slog.String("error", err.Error()))
		return nil, terminal(CodeInternal, http.StatusInternalServerError, "authentication unavailable")
	}

	// Authenticated → RateAdmitted
	decision, err := p.limiter.Admit(ctx, req.Source, req.ReceivedAt)
	if err != nil {
		p.log.Error("rate limiter failed", slog.String("error", err.Error()))
		return nil, terminal(CodeInternal, http.StatusInternalServerError, "rate limiter unavailable")
	}
	if !decision.Allowed {
		rejection := terminal(CodeRateLimited, http.StatusTooManyRequests, "request budget exceeded for source")
		rejection.RetryAfter = decision.RetryAfter
		return nil, rejection
	}

	// Payload must decode before key derivation and normalization.
	var payload normalize.Payload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, terminal(CodeMalformedPayload, http.StatusBadRequest, "payload is not a JSON object")
	}

	mapper := p.registry.Find(req.Source)

	key := req.Headers.IdempotencyKey
	if key == "" {
		kf := mapper.KeyFields(payload)
		key = idempotency.DeriveKey(req.Source, kf.Instrument, kf.EventTimestamp)
	}

	// RateAdmitted → Deduplicated
	resolution, err := p.cache.Resolve(ctx, key, idempotency.PayloadHash(req.Body))
	if err != nil {
		p.log.Error("idempotency resolution failed", slog.String("error", err.Error()))
		return nil, terminal(CodeInternal, http.StatusInternalServerError, "idempotency cache unavailable")
	}

	switch resolution.Outcome {
	case idempotency.OutcomeConflict:
		p.log.Warn("idempotency conflict",
			slog.String("source", req.Source),
			slog.String("idempotency_key", key),
		)
		return nil, terminal(CodeIdempotencyConflict, http.StatusConflict,
			"idempotency key already used with a different payload")

	case idempotency.OutcomeDuplicate:
		// Short-circuit to Acked with the cached correlation id.
		return &Result{
			CorrelationID:  resolution.CorrelationID,
			IdempotencyKey: key,
			Duplicate:      true,
		}, nil
	}

	corrID := resolution.CorrelationID
	log := p.log.With(slog.String("corr_id", corrID), slog.String("source", req.Source))

	// Deduplicated → RawPublished. The raw payload is published as
	// received regardless of normalization outcome.
	envelope := signal.RawEnvelope{
		SchemaVersion:  signal.SchemaVersion,
		CorrelationID:  corrID,
		Source:         req.Source,
		ReceivedAt:     req.ReceivedAt.UTC(),
		IdempotencyKey: key,
		Payload:        json.RawMessage(req.Body),
	}
	rawData, err := json.Marshal(envelope)
	if err != nil {
		p.rollback(ctx, key)
		log.Error("marshal raw envelope failed", slog.String("error", err.Error()))
		return nil, p.withCorrID(terminal(CodeInternal, http.StatusInternalServerError, "event encoding failed"), corrID)
	}

	if err := p.publisher.Publish(ctx, signal.SubjectRaw, rawData); err != nil {
		p.rollback(ctx, key)
		log.Error("raw publish failed closed", slog.String("error", err.Error()))
		return nil, p.logUnavailable(corrID)
	}
	metrics.EventsPublished.WithLabelValues("raw").Inc()

	// RawPublished → Normalized
	result := &Result{CorrelationID: corrID, IdempotencyKey: key}

	mapped, mapErr := mapper.Map(payload, req.ReceivedAt)
	var event *signal.Event
	var normErr error
	if mapErr != nil {
		normErr = mapErr
	} else {
		event = normalize.ToCanonical(corrID, req.Source, mapped, req.ReceivedAt)
		normErr = p.contract.Validate(ctx, event)
	}

	if normErr != nil {
		metrics.NormalizationErrors.WithLabelValues(req.Source).Inc()
		log.Warn("normalization failed", slog.String("error", normErr.Error()))
		p.deadLetter(ctx, req.Source, corrID, req.Body, normErr)

		if _, hard := p.strict[strings.ToLower(req.Source)]; hard {
			failure := terminal(CodeSchemaInvalid, http.StatusUnprocessableEntity, normErr.Error())
			return nil, p.withCorrID(failure, corrID)
		}

		// Soft mode: the raw event was accepted; surface the failure
		// alongside the acceptance.
		result.Warnings = append(result.Warnings, "normalization failed: "+normErr.Error())
		return result, nil
	}

	// Normalized → NormalizedPublished
	normData, err := json.Marshal(event)
	if err != nil {
		log.Error("marshal normalized event failed", slog.String("error", err.Error()))
		return nil, p.withCorrID(terminal(CodeInternal, http.StatusInternalServerError, "event encoding failed"), corrID)
	}

	subject := signal.NormalizedSubject(event.Priority, event.Instrument, event.Type)
	if err := p.publisher.Publish(ctx, subject, normData); err != nil {
		p.rollback(ctx, key)
		log.Error("normalized publish failed closed", slog.String("error", err.Error()))
		return nil, p.logUnavailable(corrID)
	}
	metrics.EventsPublished.WithLabelValues("normalized").Inc()

	// NormalizedPublished → Acked
	return result, nil
}

// rollback removes the idempotency record after a fail-closed publish so
// the caller's retry is treated as new work. The nonce record stays: a
// nonce accepted as fresh is never replayable.
func (p *Pipeline) rollback(ctx context.Context, key string) {
	if err := p.cache.Forget(ctx, key); err != nil {
		p.log.Error("idempotency rollback failed",
			slog.String("idempotency_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// deadLetter records a failed normalization for later replay. Best effort:
// a DLQ failure must not change the request outcome.
func (p *Pipeline) deadLetter(ctx context.Context, source, corrID string, body []byte, cause error) {
	entry, err := json.Marshal(map[string]any{
		"corr_id":   corrID,
		"source":    source,
		"failed_at": time.Now().UTC(),
		"error":     cause.Error(),
		"payload":   json.RawMessage(body),
	})
	if err != nil {
		return
	}
	if err := p.publisher.Publish(ctx, signal.DLQSubject(source), entry); err != nil {
		p.log.Warn("dead letter publish failed",
			slog.String("corr_id", corrID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) logUnavailable(corrID string) *Error {
	failure := terminal(CodeLogUnavailable, http.StatusServiceUnavailable,
		"durable event log unavailable, retry later")
	failure.RetryAfter = retryAfterLogDown
	return p.withCorrID(failure, corrID)
}

func (p *Pipeline) withCorrID(e *Error, corrID string) *Error {
	e.CorrelationID = corrID
	return e
}
