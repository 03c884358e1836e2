// Package contract validates normalized signals against the externally
// owned canonical contract (SignalEventV1). The gateway consumes the
// contract as a fixed, versioned rule set; it does not own or evolve it.
package contract

import (
	"context"
	"fmt"

	"github.com/tradeflow-systems/signal-gateway/pkg/signal"
)

// Version of the canonical contract these validators enforce.
const Version = "1.0.0"

// ValidationError reports which contract rule a signal violated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contract: %s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validator checks one aspect of the canonical shape.
type Validator interface {
	Validate(ctx context.Context, event *signal.Event) error
}

// Chain applies validators in order until one fails.
type Chain struct {
	validators []Validator
}

// NewChain constructs a validator chain.
func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

// Default returns the chain enforcing the full SignalEventV1 contract.
func Default() *Chain {
	return NewChain(&RequiredFields{}, &Ranges{})
}

// Validate executes the chain.
func (c *Chain) Validate(ctx context.Context, event *signal.Event) error {
	if c == nil {
		return nil
	}
	for _, v := range c.validators {
		if err := v.Validate(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// RequiredFields enforces presence of the contract's mandatory fields.
type RequiredFields struct{}

func (RequiredFields) Validate(ctx context.Context, event *signal.Event) error {
	if event.SchemaVersion != Version {
		return invalidf("schema_version", "got %q, contract requires %q", event.SchemaVersion, Version)
	}
	if event.CorrelationID == "" {
		return invalidf("correlation_id", "missing")
	}
	if event.Source == "" {
		return invalidf("source", "missing")
	}
	if event.Instrument == "" {
		return invalidf("instrument", "missing")
	}
	if event.Type == "" {
		return invalidf("type", "missing")
	}
	if event.EventTime.IsZero() {
		return invalidf("timestamp", "missing")
	}
	if event.NormalizedAt.IsZero() {
		return invalidf("normalized_at", "missing")
	}
	return nil
}

// Ranges enforces the contract's value constraints.
type Ranges struct{}

func (Ranges) Validate(ctx context.Context, event *signal.Event) error {
	if event.Price <= 0 {
		return invalidf("price", "must be positive, got %v", event.Price)
	}
	if event.Side != nil && *event.Side != signal.SideBuy && *event.Side != signal.SideSell {
		return invalidf("side", "must be %q or %q, got %q", signal.SideBuy, signal.SideSell, *event.Side)
	}
	if event.Strength != nil && (*event.Strength < 0 || *event.Strength > 1) {
		return invalidf("strength", "must be within [0,1], got %v", *event.Strength)
	}
	if event.Priority != signal.PriorityHigh && event.Priority != signal.PriorityStd {
		return invalidf("priority", "unknown value %q", event.Priority)
	}
	return nil
}
