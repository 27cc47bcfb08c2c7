package xpub

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPayload is returned by Build when no payload was ever set.
	ErrMissingPayload = errors.New("xpub: message has no payload")
	// ErrNilMessage is returned when a nil *Message is handed to a publisher.
	ErrNilMessage = errors.New("xpub: message is nil")
	// ErrQueueFull is returned by non-blocking enqueue when the queue has no free slot.
	ErrQueueFull = errors.New("xpub: queue is full")
	// ErrQueueClosed is returned once the queue stopped accepting messages.
	ErrQueueClosed = errors.New("xpub: queue is closed")
	// ErrHandleClosed is returned when a released Handle is used.
	ErrHandleClosed = errors.New("xpub: handle is closed")
	// ErrPublisherClosed is returned when a closed Publisher is used.
	ErrPublisherClosed = errors.New("xpub: publisher is closed")
	// ErrEnqueueUnsupported is returned by Enqueue on a Publisher, which has no queue.
	ErrEnqueueUnsupported = errors.New("xpub: cannot enqueue without a background publisher")
	// ErrNoConnectionFactory is returned by Build when neither a factory nor a backend was configured.
	ErrNoConnectionFactory = errors.New("xpub: no connection factory configured")
	// ErrObserverPoolShutdownTimeout is returned when observer workers do not finish in time.
	ErrObserverPoolShutdownTimeout = errors.New("xpub: observer pool shutdown timeout")
)

type ErrUnknownBackend struct{ name string }

func (e ErrUnknownBackend) Error() string { return fmt.Sprintf("xpub: unknown backend: %s", e.name) }

// SerializationError reports a payload that could not be encoded.
type SerializationError struct {
	Codec string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("xpub: encode payload with %s codec: %v", e.Codec, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ConnectionError reports a failed connection factory call.
type ConnectionError struct {
	Topic string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("xpub: create connection: %v", e.Err)
	}
	return fmt.Sprintf("xpub: create connection for %q: %v", e.Topic, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a failed delivery attempt. Timeout is set when the attempt
// exceeded the send timeout rather than returning an error.
type SendError struct {
	Topic     string
	MessageID string
	Timeout   bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("xpub: send %s to %q timed out: %v", e.MessageID, e.Topic, e.Err)
	}
	return fmt.Sprintf("xpub: send %s to %q: %v", e.MessageID, e.Topic, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
