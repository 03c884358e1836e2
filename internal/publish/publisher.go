// Package publish delivers events to the durable log with fail-closed
// buffering. When the log is unreachable, events queue in a bounded
// in-process buffer; once the buffer or its time horizon is exhausted, new
// work is rejected rather than silently dropped.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tradeflow-systems/signal-gateway/internal/metrics"
)

// ErrUnavailable means the durable log is unreachable and the fail-closed
// buffer cannot absorb more work. Callers must not report success.
var ErrUnavailable = errors.New("durable log unavailable")

// State of the publisher's connection machine.
type State int32

const (
	StateConnected State = iota
	StateReconnecting
	StateBufferFull
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateBufferFull:
		return "buffer_full"
	default:
		return "unknown"
	}
}

// Stream is the durable log connection. *JetStream is the production
// implementation; tests substitute fakes.
type Stream interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Connected() bool
}

// Config holds the publisher's buffering and reconnection settings.
type Config struct {
	// PublishTimeout bounds each synchronous publish attempt.
	PublishTimeout time.Duration

	// BufferCapacity is the maximum number of buffered events.
	BufferCapacity int

	// BufferMaxAge is the time horizon: once the log has been down this
	// long, new requests fail closed even if capacity remains.
	BufferMaxAge time.Duration

	// ReconnectBase and ReconnectMax bound the exponential backoff of
	// the reconnect loop.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 1000
	}
	if c.BufferMaxAge <= 0 {
		c.BufferMaxAge = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 250 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 10 * time.Second
	}
	return c
}

type task struct {
	subject  string
	data     []byte
	enqueued time.Time
}

// Publisher is the fail-closed publisher. All state transitions happen
// under one mutex; the reconnect loop never holds it across network calls
// so a stalled log connection cannot stall the request path.
type Publisher struct {
	stream Stream
	cfg    Config
	log    *slog.Logger

	mu        sync.Mutex
	state     State
	buffer    []task
	downSince time.Time

	wake chan struct{}
	done chan struct{}

	nowFn func() time.Time
}

// New constructs a publisher and starts its reconnect loop.
func New(stream Stream, cfg Config, log *slog.Logger) *Publisher {
	p := &Publisher{
		stream: stream,
		cfg:    cfg.withDefaults(),
		log:    log,
		state:  StateConnected,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		nowFn:  time.Now,
	}
	go p.reconnectLoop()
	return p
}

// Publish delivers one event: synchronously while connected, buffered
// while the log is down, ErrUnavailable once the buffer or its horizon
// is exhausted. Buffered events drain in enqueue order on reconnection,
// so per-request ordering (raw before normalized) is preserved.
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()

	if p.state == StateConnected && len(p.buffer) == 0 {
		p.mu.Unlock()

		pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		err := p.stream.Publish(pubCtx, subject, data)
		cancel()
		if err == nil {
			return nil
		}

		p.mu.Lock()
		if p.state == StateConnected {
			p.transitionLocked(StateReconnecting)
			p.downSince = p.nowFn()
		}
		p.log.Warn("durable log publish failed, buffering",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}

	now := p.nowFn()
	horizonExceeded := !p.downSince.IsZero() && now.Sub(p.downSince) > p.cfg.BufferMaxAge

	if p.state == StateBufferFull || len(p.buffer) >= p.cfg.BufferCapacity || horizonExceeded {
		p.transitionLocked(StateBufferFull)
		p.mu.Unlock()
		metrics.PublishFailures.Inc()
		return ErrUnavailable
	}

	p.buffer = append(p.buffer, task{subject: subject, data: data, enqueued: now})
	metrics.PublishBufferDepth.Set(float64(len(p.buffer)))
	p.mu.Unlock()

	p.signalWake()
	return nil
}

// State returns the current connection state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BufferDepth returns the number of buffered events.
func (p *Publisher) BufferDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close stops the reconnect loop. Buffered events are not flushed.
func (p *Publisher) Close() error {
	close(p.done)
	return nil
}

func (p *Publisher) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// transitionLocked updates state and its gauge. Caller holds the mutex.
func (p *Publisher) transitionLocked(next State) {
	if p.state == next {
		return
	}
	p.log.Info("publisher state change",
		slog.String("from", p.state.String()),
		slog.String("to", next.String()),
	)
	p.state = next
	metrics.PublishState.Set(float64(next))
}

// reconnectLoop retries the durable log with exponential backoff and
// jitter, draining the buffer in enqueue order once it reconnects.
func (p *Publisher) reconnectLoop() {
	attempt := 0

	for {
		p.mu.Lock()
		idle := p.state == StateConnected && len(p.buffer) == 0
		p.mu.Unlock()

		if idle {
			attempt = 0
			select {
			case <-p.wake:
			case <-p.done:
				return
			}
			continue
		}

		if p.stream.Connected() && p.drain() {
			p.mu.Lock()
			p.transitionLocked(StateConnected)
			p.downSince = time.Time{}
			p.mu.Unlock()
			attempt = 0
			continue
		}

		attempt++
		select {
		case <-time.After(p.backoff(attempt)):
		case <-p.done:
			return
		}
	}
}

// drain publishes buffered events head-first until the buffer is empty or
// a publish fails. Returns true when fully drained. The mutex is released
// around each network call so requests keep enqueueing behind the head.
func (p *Publisher) drain() bool {
	for {
		p.mu.Lock()
		if len(p.buffer) == 0 {
			p.mu.Unlock()
			return true
		}
		head := p.buffer[0]
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
		err := p.stream.Publish(ctx, head.subject, head.data)
		cancel()
		if err != nil {
			return false
		}

		p.mu.Lock()
		p.buffer = p.buffer[1:]
		metrics.PublishBufferDepth.Set(float64(len(p.buffer)))
		p.mu.Unlock()
	}
}

func (p *Publisher) backoff(attempt int) time.Duration {
	d := p.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.ReconnectMax {
			d = p.cfg.ReconnectMax
			break
		}
	}
	// Jitter up to half the delay to avoid thundering-herd reconnects.
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
