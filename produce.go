package xpub

import (
	"context"
	"time"
)

// sink is where a ProducedMessage goes: a Handle's queue or a Publisher's connection.
type sink interface {
	EnqueueMessage(msg *Message) error
	SendMessage(ctx context.Context, msg *Message) error
}

// ProducedMessage is a MessageBuilder bound to a Handle or a Publisher. Like
// MessageBuilder it is a value type; Enqueue or Send builds the message and
// hands it over.
//
//	err := h.Produce().JSON(order).Property("tenant", "acme").Send(ctx)
type ProducedMessage struct {
	builder MessageBuilder
	dest    sink
}

func (p ProducedMessage) with(b MessageBuilder) ProducedMessage {
	p.builder = b
	return p
}

func (p ProducedMessage) Text(s string) ProducedMessage  { return p.with(p.builder.Text(s)) }
func (p ProducedMessage) Bytes(b []byte) ProducedMessage { return p.with(p.builder.Bytes(b)) }
func (p ProducedMessage) JSON(v any) ProducedMessage     { return p.with(p.builder.JSON(v)) }

// Encode uses the codec configured on the publisher.
func (p ProducedMessage) Encode(v any) ProducedMessage { return p.with(p.builder.Encode(v)) }

func (p ProducedMessage) Timestamp(ts time.Time) ProducedMessage {
	return p.with(p.builder.Timestamp(ts))
}

func (p ProducedMessage) Property(key, value string) ProducedMessage {
	return p.with(p.builder.Property(key, value))
}

func (p ProducedMessage) Properties(props map[string]string) ProducedMessage {
	return p.with(p.builder.Properties(props))
}

// Build returns the message without enqueueing it.
func (p ProducedMessage) Build() (*Message, error) { return p.builder.Build() }

// Enqueue builds the message and queues it without blocking. A Publisher has
// no queue and returns ErrEnqueueUnsupported.
func (p ProducedMessage) Enqueue() error {
	msg, err := p.builder.Build()
	if err != nil {
		return err
	}
	return p.dest.EnqueueMessage(msg)
}

// Send builds the message and hands it over. On a Handle it returns once the
// queue accepted the message, waiting for capacity; on a Publisher it returns
// the broker's answer.
func (p ProducedMessage) Send(ctx context.Context) error {
	msg, err := p.builder.Build()
	if err != nil {
		return err
	}
	return p.dest.SendMessage(ctx, msg)
}
