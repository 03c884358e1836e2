// Package normalize maps source-specific payload shapes into the canonical
// signal representation.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tradeflow-systems/signal-gateway/pkg/signal"
)

// Error is a normalization failure: the payload could not be mapped into
// the canonical shape.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize: %s: %s", e.Field, e.Message)
}

func errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Payload is a decoded JSON object as received from a source.
type Payload map[string]any

// KeyFields are the payload fields feeding derived idempotency keys.
type KeyFields struct {
	Instrument     string
	EventTimestamp string
}

// Mapper converts one source's payload shape into a canonical event.
type Mapper interface {
	// Source is the source identifier this mapper handles.
	Source() string

	// KeyFields extracts the fields used for derived idempotency keys.
	// Best effort: unmappable payloads return zero values.
	KeyFields(p Payload) KeyFields

	// Map converts the payload into mapped signal fields. now supplies
	// the default event time for payloads without a timestamp.
	Map(p Payload, now time.Time) (*Event, error)
}

// Event is the mapper output before contract validation, mirroring the
// canonical signal fields.
type Event struct {
	Instrument string
	Price      float64
	Side       *string
	Strength   *float64
	SignalName string
	EventTime  time.Time
}

// ToCanonical stamps the mapped fields into a canonical signal event:
// classification, priority, contract version, and timestamps.
func ToCanonical(correlationID, source string, e *Event, now time.Time) *signal.Event {
	signalType := signal.Classify(e.SignalName)
	return &signal.Event{
		SchemaVersion: signal.SchemaVersion,
		CorrelationID: correlationID,
		Source:        source,
		Instrument:    e.Instrument,
		Price:         e.Price,
		Side:          e.Side,
		Strength:      e.Strength,
		Type:          signalType,
		Priority:      signal.Prioritize(e.Strength, signalType),
		EventTime:     e.EventTime,
		NormalizedAt:  now.UTC(),
	}
}

// Registry resolves the mapper for a source, falling back to the generic
// mapper for sources without a dedicated shape.
type Registry struct {
	mappers  map[string]Mapper
	fallback Mapper
}

// NewRegistry constructs a registry. The fallback handles any source not
// claimed by a dedicated mapper.
func NewRegistry(fallback Mapper, mappers ...Mapper) *Registry {
	byName := make(map[string]Mapper, len(mappers))
	for _, m := range mappers {
		byName[m.Source()] = m
	}
	return &Registry{mappers: byName, fallback: fallback}
}

// Find returns the mapper for source.
func (r *Registry) Find(source string) Mapper {
	if m, ok := r.mappers[strings.ToLower(source)]; ok {
		return m
	}
	return r.fallback
}

// stringField reads a non-empty string field.
func stringField(p Payload, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// numberField reads a numeric field that may arrive as a JSON number or a
// numeric string (TradingView sends both).
func numberField(p Payload, key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, errorf(key, "not a number: %q", n)
		}
		return parsed, true, nil
	default:
		return 0, false, errorf(key, "unexpected type %T", v)
	}
}

// parseEventTime accepts RFC3339 or unix seconds and re-emits UTC.
// A missing timestamp defaults to receipt time.
func parseEventTime(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(secs)
		nsec := int64((secs - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, errorf("timestamp", "unparseable value %q", raw)
}
