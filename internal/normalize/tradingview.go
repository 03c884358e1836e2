package normalize

import (
	"strings"
	"time"
)

// TradingView maps TradingView alert webhooks:
//
//	{"ticker":"EURUSD","action":"buy","price":1.0945,"time":"2024-01-15T10:30:00Z"}
//
// "ticker" renames to instrument, "action" maps to the canonical side
// ("close" means flat, so side is absent rather than a third value), and
// free-form times are re-emitted as UTC.
type TradingView struct{}

func (TradingView) Source() string {
	return "tradingview"
}

func (TradingView) KeyFields(p Payload) KeyFields {
	return KeyFields{
		Instrument:     stringField(p, "ticker"),
		EventTimestamp: stringField(p, "time"),
	}
}

func (TradingView) Map(p Payload, now time.Time) (*Event, error) {
	instrument := stringField(p, "ticker")
	if instrument == "" {
		return nil, errorf("ticker", "missing or empty")
	}

	price, ok, err := numberField(p, "price")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorf("price", "missing")
	}

	action := strings.ToLower(stringField(p, "action"))
	var side *string
	switch action {
	case "buy", "long":
		side = sidePtr("buy")
	case "sell", "short":
		side = sidePtr("sell")
	case "close", "":
		side = nil
	default:
		return nil, errorf("action", "unrecognized value %q", action)
	}

	strength, hasStrength, err := numberField(p, "strength")
	if err != nil {
		return nil, err
	}
	var strengthPtr *float64
	if hasStrength {
		strengthPtr = &strength
	}

	eventTime, err := parseEventTime(stringField(p, "time"), now)
	if err != nil {
		return nil, err
	}

	name := stringField(p, "signal")
	if name == "" {
		name = action
	}

	return &Event{
		Instrument: strings.ToUpper(instrument),
		Price:      price,
		Side:       side,
		Strength:   strengthPtr,
		SignalName: name,
		EventTime:  eventTime,
	}, nil
}

func sidePtr(s string) *string {
	return &s
}
