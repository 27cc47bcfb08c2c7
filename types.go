package xpub

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

// EventQueued is emitted before the message enters the queue, so it precedes
// every later event for that message. EventRejected follows it when the queue
// refused the message.
const (
	EventQueued         EventType = "queued"
	EventRejected       EventType = "rejected"
	EventSent           EventType = "sent"
	EventSendFailed     EventType = "send_failed"
	EventRetryScheduled EventType = "retry_scheduled"
	EventConnected      EventType = "connected"
	EventConnectFailed  EventType = "connect_failed"
	EventDisconnected   EventType = "disconnected"
	EventAbandoned      EventType = "abandoned"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Topic     string
	Producer  string
	MessageID string
	// Attempt is the 1-based delivery attempt the event refers to (0 when not applicable).
	Attempt  int
	Duration time.Duration
	Err      error
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Stats is a point-in-time view of a publisher core, shared by all clones of a Handle.
type Stats struct {
	Queued          uint64
	Sent            uint64
	SendFailures    uint64
	ConnectFailures uint64
	Reconnects      uint64
	Abandoned       uint64
	EventsDropped   uint64

	InFlight      int64
	QueueDepth    int
	QueueCapacity int

	Connected    bool
	PendingRetry bool
	Stopped      bool

	AvgSendTimeMs float64
}

// HealthStatus indicates publisher health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Stats     Stats
	Timestamp time.Time
	Message   string
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)
