package signal

import "strings"

// Signal type categories used for subject routing.
const (
	TypeMomentum  = "momentum"
	TypeBreakout  = "breakout"
	TypeIndicator = "indicator"
	TypeSentiment = "sentiment"
	TypeCustom    = "custom"
)

// Priority levels used for subject routing.
const (
	PriorityHigh = "high"
	PriorityStd  = "std"
)

var typeMarkers = []struct {
	category string
	markers  []string
}{
	{TypeMomentum, []string{"rsi", "macd", "stochastic", "momentum"}},
	{TypeBreakout, []string{"break", "bounce", "support", "resistance"}},
	{TypeIndicator, []string{"ema", "sma", "bollinger", "cross"}},
	{TypeSentiment, []string{"sentiment", "fear", "greed"}},
}

// Classify maps a free-form signal name to a canonical type category.
// Unknown names fall through to "custom".
func Classify(name string) string {
	lower := strings.ToLower(name)
	for _, tm := range typeMarkers {
		for _, m := range tm.markers {
			if strings.Contains(lower, m) {
				return tm.category
			}
		}
	}
	return TypeCustom
}

// Prioritize determines routing priority from strength and type. Strong
// signals and actionable categories (momentum, breakout) at moderate
// strength are high priority; everything else is standard.
func Prioritize(strength *float64, signalType string) string {
	if strength == nil {
		return PriorityStd
	}
	if *strength >= 0.8 {
		return PriorityHigh
	}
	if *strength >= 0.6 && (signalType == TypeMomentum || signalType == TypeBreakout) {
		return PriorityHigh
	}
	return PriorityStd
}
