package xpub

import (
	"context"
)

// Connection is a live, topic-bound link to a broker. A Connection is owned by a
// single dispatcher or Publisher and is never used concurrently.
type Connection interface {
	// Topic returns the topic this connection publishes to.
	Topic() string
	// Send delivers one message. Any error (including ctx expiry) marks the
	// connection as unusable.
	Send(ctx context.Context, msg *Message) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// ConnectionFactory creates a fresh Connection. It is called once at startup and
// again every time the previous connection failed, so it must be safe to call repeatedly.
type ConnectionFactory func(ctx context.Context) (Connection, error)

// Sender delivers one message through the current connection.
type Sender func(ctx context.Context, msg *Message) error

// Middleware composes concerns around a Sender.
type Middleware func(next Sender) Sender

// Codec is the Strategy for encoding payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives publisher lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the caller-facing surface of a publisher handle.
type API interface {
	Produce() ProducedMessage
	Publish() ProducedMessage
	EnqueueMessage(msg *Message) error
	SendMessage(ctx context.Context, msg *Message) error
	Clone() *Handle
	Close(ctx context.Context) error
	Stats() Stats
	Health(ctx context.Context) HealthStatus
}

var (
	_ API           = (*Handle)(nil)
	_ HealthChecker = (*Handle)(nil)
	_ HealthChecker = (*Publisher)(nil)
)
