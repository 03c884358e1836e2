// Package ratelimit enforces the per-source request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the window resets. Only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter admits or denies a request for a source at a point in time.
type Limiter interface {
	Admit(ctx context.Context, source string, now time.Time) (Decision, error)
	Close() error
}

// window is a per-source fixed counting window. Counter increments and
// window resets happen under the limiter's lock so concurrent requests
// cannot undercount.
type window struct {
	start time.Time
	count int
}

// FixedWindow is an in-process fixed-window limiter. Every attempt,
// admitted or denied, counts against the window.
type FixedWindow struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	windows  map[string]*window
}

// NewFixedWindow creates a limiter allowing limit requests per interval
// per source.
func NewFixedWindow(limit int, interval time.Duration) *FixedWindow {
	if interval <= 0 {
		interval = time.Second
	}
	return &FixedWindow{
		limit:    limit,
		interval: interval,
		windows:  make(map[string]*window),
	}
}

// Admit implements Limiter.
func (f *FixedWindow) Admit(ctx context.Context, source string, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[source]
	if !ok || !now.Before(w.start.Add(f.interval)) {
		w = &window{start: now}
		f.windows[source] = w
	}

	w.count++
	if w.count > f.limit {
		metrics.RateLimitHits.WithLabelValues(source).Inc()
		return Decision{
			Allowed:    false,
			RetryAfter: retryAfter(w.start.Add(f.interval).Sub(now)),
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// Close implements Limiter.
func (f *FixedWindow) Close() error {
	return nil
}

// NoOp always admits. Used when rate limiting is disabled.
type NoOp struct{}

func (NoOp) Admit(ctx context.Context, source string, now time.Time) (Decision, error) {
	return Decision{Allowed: true}, nil
}

func (NoOp) Close() error {
	return nil
}

// retryAfter rounds the remaining window up to whole seconds so the hint
// is never zero while the caller is still limited.
func retryAfter(remaining time.Duration) time.Duration {
	if remaining <= 0 {
		return time.Second
	}
	secs := (remaining + time.Second - 1) / time.Second * time.Second
	return secs
}
