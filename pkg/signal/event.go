// Package signal defines the canonical event shapes published to the durable
// event log, along with their subject names and classification rules.
package signal

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the contract version stamped on every published event.
const SchemaVersion = "1.0.0"

// Side values accepted on a normalized signal.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// RawEnvelope wraps the payload exactly as received, with receipt metadata.
// It is published regardless of normalization outcome.
type RawEnvelope struct {
	SchemaVersion  string          `json:"schema_version"`
	CorrelationID  string          `json:"corr_id"`
	Source         string          `json:"source"`
	ReceivedAt     time.Time       `json:"received_at"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Event is the canonical normalized trading signal. Immutable after
// creation; the correlation id is assigned once at first acceptance and
// shared with the raw envelope.
type Event struct {
	SchemaVersion string    `json:"schema_version"`
	CorrelationID string    `json:"correlation_id"`
	Source        string    `json:"source"`
	Instrument    string    `json:"instrument"`
	Price         float64   `json:"price"`
	Side          *string   `json:"side,omitempty"`
	Strength      *float64  `json:"strength,omitempty"`
	Type          string    `json:"type"`
	Priority      string    `json:"priority"`
	EventTime     time.Time `json:"timestamp"`
	NormalizedAt  time.Time `json:"normalized_at"`
}

// SidePtr returns a pointer to a valid side string, or nil for a
// position-close or unknown direction.
func SidePtr(side string) *string {
	if side != SideBuy && side != SideSell {
		return nil
	}
	s := side
	return &s
}
