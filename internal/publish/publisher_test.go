package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream is a controllable Stream for driving the state machine.
type fakeStream struct {
	mu        sync.Mutex
	connected bool
	failing   bool
	published []string
}

func (f *fakeStream) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("connection lost")
	}
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
	f.connected = !failing
}

func (f *fakeStream) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	copy(out, f.published)
	return out
}

// testClock is a mutable now source safe for concurrent reads.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPublisher(t *testing.T, cfg Config) (*Publisher, *fakeStream, *testClock) {
	t.Helper()

	stream := &fakeStream{connected: true}
	clock := &testClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}

	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = time.Millisecond
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 5 * time.Millisecond
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(stream, cfg, log)
	p.nowFn = clock.Now
	t.Cleanup(func() { p.Close() })

	return p, stream, clock
}

func TestPublishSynchronousWhenConnected(t *testing.T) {
	p, stream, _ := newTestPublisher(t, Config{})

	err := p.Publish(context.Background(), "signals.raw", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"signals.raw"}, stream.subjects())
	assert.Equal(t, StateConnected, p.State())
	assert.Equal(t, 0, p.BufferDepth())
}

func TestPublishFailureBuffersAndTransitions(t *testing.T) {
	p, stream, _ := newTestPublisher(t, Config{})
	stream.setFailing(true)

	err := p.Publish(context.Background(), "signals.raw", []byte(`{}`))
	require.NoError(t, err, "buffered publishes report success")

	assert.Equal(t, StateReconnecting, p.State())
	assert.Equal(t, 1, p.BufferDepth())
}

func TestPublishFailsClosedAtCapacity(t *testing.T) {
	p, stream, _ := newTestPublisher(t, Config{BufferCapacity: 2, BufferMaxAge: time.Hour})
	stream.setFailing(true)

	require.NoError(t, p.Publish(context.Background(), "s.1", []byte(`{}`)))
	require.NoError(t, p.Publish(context.Background(), "s.2", []byte(`{}`)))

	err := p.Publish(context.Background(), "s.3", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateBufferFull, p.State())

	// Once full, everything is rejected.
	err = p.Publish(context.Background(), "s.4", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPublishFailsClosedPastHorizon(t *testing.T) {
	p, stream, clock := newTestPublisher(t, Config{BufferCapacity: 1000, BufferMaxAge: 30 * time.Second})
	stream.setFailing(true)

	require.NoError(t, p.Publish(context.Background(), "s.1", []byte(`{}`)))

	clock.Advance(31 * time.Second)

	err := p.Publish(context.Background(), "s.2", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateBufferFull, p.State())
}

func TestDrainPreservesOrderAndRecovers(t *testing.T) {
	p, stream, _ := newTestPublisher(t, Config{BufferCapacity: 10, BufferMaxAge: time.Hour})
	stream.setFailing(true)

	require.NoError(t, p.Publish(context.Background(), "s.1", []byte(`{}`)))
	require.NoError(t, p.Publish(context.Background(), "s.2", []byte(`{}`)))
	require.NoError(t, p.Publish(context.Background(), "s.3", []byte(`{}`)))
	require.Equal(t, 3, p.BufferDepth())

	stream.setFailing(false)

	require.Eventually(t, func() bool {
		return p.State() == StateConnected && p.BufferDepth() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"s.1", "s.2", "s.3"}, stream.subjects())
}

func TestPublishDuringDrainStaysOrdered(t *testing.T) {
	p, stream, _ := newTestPublisher(t, Config{BufferCapacity: 10, BufferMaxAge: time.Hour})
	stream.setFailing(true)

	require.NoError(t, p.Publish(context.Background(), "s.1", []byte(`{}`)))

	// Still down; a second publish lands behind the head.
	require.NoError(t, p.Publish(context.Background(), "s.2", []byte(`{}`)))

	stream.setFailing(false)

	require.Eventually(t, func() bool {
		return p.BufferDepth() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"s.1", "s.2"}, stream.subjects())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "buffer_full", StateBufferFull.String())
}
