package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig holds connection settings for the durable log.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration

	// ReconnectWait is the client-level wait between reconnect attempts.
	ReconnectWait time.Duration
}

// Stream configurations for the signal bus.
var (
	// SignalsStream captures raw and normalized signal events.
	SignalsStream = jetstream.StreamConfig{
		Name:      "SIGNALS",
		Subjects:  []string{"signals.>"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	// SignalsDLQStream captures failed normalizations for replay.
	SignalsDLQStream = jetstream.StreamConfig{
		Name:      "SIGNALS_DLQ",
		Subjects:  []string{"dlq.signals.>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024, // 100MB
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)

// JetStream is the production Stream implementation over NATS JetStream.
type JetStream struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectJetStream connects to NATS and creates a JetStream context.
func ConnectJetStream(cfg NATSConfig) (*JetStream, error) {
	if cfg.Name == "" {
		cfg.Name = "signal-gateway"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStream{conn: conn, js: js}, nil
}

// EnsureStreams creates or updates the signal streams.
func (j *JetStream) EnsureStreams(ctx context.Context) error {
	for _, cfg := range []jetstream.StreamConfig{SignalsStream, SignalsDLQStream} {
		if _, err := j.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create/update stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Publish implements Stream with a synchronous, acknowledged publish.
func (j *JetStream) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := j.js.Publish(ctx, subject, data)
	return err
}

// Connected implements Stream.
func (j *JetStream) Connected() bool {
	return j.conn.IsConnected()
}

// Close drains the connection, letting in-flight publishes complete.
func (j *JetStream) Close() error {
	return j.conn.Drain()
}
