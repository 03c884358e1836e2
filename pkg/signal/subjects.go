package signal

import (
	"fmt"
	"strings"
)

// Subject constants for the signal bus.
// Follow the pattern: signals.{stage}[.{priority}.{instrument}.{type}]
const (
	// SubjectRaw carries every accepted payload as received.
	SubjectRaw = "signals.raw"

	// SubjectNormalizedPrefix is the root for normalized signal subjects.
	SubjectNormalizedPrefix = "signals.normalized"

	// SubjectDLQPrefix is the root for normalization dead letters.
	SubjectDLQPrefix = "dlq.signals.normalized"
)

// NormalizedSubject returns the routed subject for a normalized event.
// Example: signals.normalized.high.EURUSD.momentum
func NormalizedSubject(priority, instrument, signalType string) string {
	return fmt.Sprintf("%s.%s.%s.%s",
		SubjectNormalizedPrefix, priority, sanitizeToken(instrument), signalType)
}

// DLQSubject returns the dead-letter subject for a source's failed
// normalizations. Example: dlq.signals.normalized.tradingview
func DLQSubject(source string) string {
	return SubjectDLQPrefix + "." + sanitizeToken(source)
}

// sanitizeToken makes a value safe for use as a NATS subject token.
// Dots and whitespace would otherwise split the subject.
func sanitizeToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return replacer.Replace(v)
}
