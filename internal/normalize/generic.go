package normalize

import (
	"strings"
	"time"
)

// Generic maps the platform's own MarketSignal shape, used by sources
// without a dedicated mapper:
//
//	{"instrument":"BTCUSD","price":45000.0,"signal":"RSI_oversold","strength":0.85,"timestamp":"..."}
//
// Direction is inferred from the signal name when present; neutral names
// leave side absent.
type Generic struct{}

func (Generic) Source() string {
	return "generic"
}

func (Generic) KeyFields(p Payload) KeyFields {
	return KeyFields{
		Instrument:     stringField(p, "instrument"),
		EventTimestamp: stringField(p, "timestamp"),
	}
}

func (Generic) Map(p Payload, now time.Time) (*Event, error) {
	instrument := stringField(p, "instrument")
	if instrument == "" {
		return nil, errorf("instrument", "missing or empty")
	}

	price, ok, err := numberField(p, "price")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorf("price", "missing")
	}

	name := stringField(p, "signal")

	strength, hasStrength, err := numberField(p, "strength")
	if err != nil {
		return nil, err
	}
	var strengthPtr *float64
	if hasStrength {
		strengthPtr = &strength
	}

	eventTime, err := parseEventTime(stringField(p, "timestamp"), now)
	if err != nil {
		return nil, err
	}

	return &Event{
		Instrument: strings.ToUpper(instrument),
		Price:      price,
		Side:       inferSide(name),
		Strength:   strengthPtr,
		SignalName: name,
		EventTime:  eventTime,
	}, nil
}

// inferSide derives direction from a free-form signal name.
func inferSide(name string) *string {
	lower := strings.ToLower(name)
	switch {
	case containsAny(lower, "buy", "bull", "long", "oversold"):
		return sidePtr("buy")
	case containsAny(lower, "sell", "bear", "short", "overbought"):
		return sidePtr("sell")
	default:
		return nil
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
