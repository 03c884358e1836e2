// Package idempotency deduplicates logically identical submissions and
// detects key/payload conflicts. A key maps to at most one accepted payload
// hash for its TTL; the correlation id assigned on first sight is returned
// for every duplicate.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
	"github.com/tradeflow-systems/signal-gateway/internal/store"
)

// Outcome of resolving an idempotency key.
type Outcome int

const (
	// OutcomeNew means the key was unseen; a correlation id was assigned.
	OutcomeNew Outcome = iota

	// OutcomeDuplicate means the key was seen with the same payload hash.
	// The caller must treat this as success without republishing.
	OutcomeDuplicate

	// OutcomeConflict means the key was seen with a different payload
	// hash. The caller must reject and must not publish.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Resolution carries the outcome and the correlation id bound to the key.
// CorrelationID is empty for conflicts.
type Resolution struct {
	Outcome       Outcome
	CorrelationID string
}

type record struct {
	Hash          string `json:"hash"`
	CorrelationID string `json:"corr_id"`
}

// Cache is the idempotency cache. Atomicity of the check-and-set is
// delegated to the underlying store.
type Cache struct {
	kv  store.KV
	ttl time.Duration
}

// New constructs a cache with the given record TTL (default one hour).
func New(kv store.KV, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{kv: kv, ttl: ttl}
}

// Resolve performs the atomic check-and-set for key against payloadHash.
func (c *Cache) Resolve(ctx context.Context, key, payloadHash string) (Resolution, error) {
	candidate := record{
		Hash:          payloadHash,
		CorrelationID: NewCorrelationID(),
	}
	data, err := json.Marshal(candidate)
	if err != nil {
		return Resolution{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	existing, inserted, err := c.kv.CheckAndInsert(ctx, "idem:"+key, data, c.ttl)
	if err != nil {
		return Resolution{}, fmt.Errorf("idempotency store: %w", err)
	}

	if inserted {
		metrics.IdempotencyOutcomes.WithLabelValues("new").Inc()
		return Resolution{Outcome: OutcomeNew, CorrelationID: candidate.CorrelationID}, nil
	}

	var prior record
	if err := json.Unmarshal(existing, &prior); err != nil {
		return Resolution{}, fmt.Errorf("decode idempotency record: %w", err)
	}

	if prior.Hash != payloadHash {
		metrics.IdempotencyOutcomes.WithLabelValues("conflict").Inc()
		return Resolution{Outcome: OutcomeConflict}, nil
	}

	metrics.IdempotencyOutcomes.WithLabelValues("duplicate").Inc()
	return Resolution{Outcome: OutcomeDuplicate, CorrelationID: prior.CorrelationID}, nil
}

// Forget removes the record for key. Used to roll back a first-acceptance
// record when the publish fails closed, so the caller's retry is treated
// as new work instead of a duplicate of a signal that was never published.
func (c *Cache) Forget(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, "idem:"+key)
}

// PayloadHash returns the hex SHA-256 of the raw payload bytes.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DeriveKey builds a deterministic idempotency key for callers that do not
// supply one: a hash of source, instrument, and event timestamp.
func DeriveKey(source, instrument, eventTimestamp string) string {
	sum := sha256.Sum256([]byte(source + "|" + instrument + "|" + eventTimestamp))
	return hex.EncodeToString(sum[:])
}

// NewCorrelationID generates a correlation id in the platform's
// req_<12 hex> format.
func NewCorrelationID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
