package xpub

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

// Message is the immutable unit handed to a Connection.
type Message struct {
	id         string
	payload    []byte
	timestamp  time.Time
	properties map[string]string
}

// ID is a unique message identifier assigned at build time.
func (m *Message) ID() string { return m.id }

// Payload returns the encoded bytes. The slice is shared and must not be modified.
func (m *Message) Payload() []byte { return m.payload }

// Timestamp is the event time: the caller's value or the build time.
func (m *Message) Timestamp() time.Time { return m.timestamp }

// Properties returns a copy of the message properties.
func (m *Message) Properties() map[string]string {
	out := make(map[string]string, len(m.properties))
	maps.Copy(out, m.properties)
	return out
}

// Property returns a single property value.
func (m *Message) Property(key string) (string, bool) {
	v, ok := m.properties[key]
	return v, ok
}

// Len returns the payload size in bytes.
func (m *Message) Len() int { return len(m.payload) }

// MessageBuilder assembles a Message. It is a value type: every method returns a
// new builder and never mutates state visible through an earlier value.
type MessageBuilder struct {
	payload    []byte
	payloadSet bool
	err        error

	timestamp  time.Time
	properties map[string]string

	codec Codec
	clock xclock.Clock
}

// NewMessage returns an empty builder using the JSON codec and the default clock.
func NewMessage() MessageBuilder {
	return MessageBuilder{}
}

// WithCodec selects the codec used by Encode.
func (b MessageBuilder) WithCodec(c Codec) MessageBuilder {
	b.codec = c
	return b
}

// WithClock selects the clock used to default the timestamp.
func (b MessageBuilder) WithClock(c xclock.Clock) MessageBuilder {
	b.clock = c
	return b
}

// Bytes sets a raw payload. The bytes are copied.
func (b MessageBuilder) Bytes(p []byte) MessageBuilder {
	cp := make([]byte, len(p))
	copy(cp, p)
	return b.setPayload(cp, nil)
}

// Text sets a UTF-8 payload.
func (b MessageBuilder) Text(s string) MessageBuilder {
	return b.setPayload([]byte(s), nil)
}

// JSON encodes v as the payload with the JSON codec.
func (b MessageBuilder) JSON(v any) MessageBuilder {
	return b.encodeWith(JSONCodec{}, v)
}

// Encode encodes v as the payload with the builder's codec (JSON by default).
func (b MessageBuilder) Encode(v any) MessageBuilder {
	c := b.codec
	if c == nil {
		c = JSONCodec{}
	}
	return b.encodeWith(c, v)
}

// Timestamp overrides the event time.
func (b MessageBuilder) Timestamp(ts time.Time) MessageBuilder {
	b.timestamp = ts
	return b
}

// Property sets one property, overwriting an earlier value for the same key.
func (b MessageBuilder) Property(key, value string) MessageBuilder {
	b.properties = cloneProps(b.properties, 1)
	b.properties[key] = value
	return b
}

// Properties merges props into the message properties; later keys win.
func (b MessageBuilder) Properties(props map[string]string) MessageBuilder {
	if len(props) == 0 {
		return b
	}
	b.properties = cloneProps(b.properties, len(props))
	maps.Copy(b.properties, props)
	return b
}

// Build validates the builder and returns the message.
func (b MessageBuilder) Build() (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if !b.payloadSet {
		return nil, ErrMissingPayload
	}
	ts := b.timestamp
	if ts.IsZero() {
		clk := b.clock
		if clk == nil {
			clk = xclock.Default()
		}
		ts = clk.Now()
	}
	return &Message{
		id:         uuid.NewString(),
		payload:    b.payload,
		timestamp:  ts,
		properties: cloneProps(b.properties, 0),
	}, nil
}

func (b MessageBuilder) encodeWith(c Codec, v any) MessageBuilder {
	data, err := c.Marshal(v)
	if err != nil {
		return b.setPayload(nil, &SerializationError{Codec: c.Name(), Err: err})
	}
	return b.setPayload(data, nil)
}

// setPayload replaces any earlier payload, including an earlier encoding failure.
func (b MessageBuilder) setPayload(p []byte, err error) MessageBuilder {
	b.payload = p
	b.payloadSet = err == nil
	b.err = err
	return b
}

func cloneProps(src map[string]string, extra int) map[string]string {
	out := make(map[string]string, len(src)+extra)
	maps.Copy(out, src)
	return out
}
