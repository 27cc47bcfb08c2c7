package xpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID    int    `json:"id"`
	Item  string `json:"item"`
	Price int64  `json:"price"`
}

func TestMessageBuilder_MissingPayload(t *testing.T) {
	_, err := NewMessage().Property("k", "v").Build()
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestMessageBuilder_EmptyPayloadIsAPayload(t *testing.T) {
	msg, err := NewMessage().Bytes(nil).Build()
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Len())
}

func TestMessageBuilder_ValueSemantics(t *testing.T) {
	base := NewMessage().Text("base").Property("a", "1")
	derived := base.Property("b", "2").Text("derived")

	m1, err := base.Build()
	require.NoError(t, err)
	m2, err := derived.Build()
	require.NoError(t, err)

	assert.Equal(t, "base", string(m1.Payload()))
	assert.Equal(t, map[string]string{"a": "1"}, m1.Properties())
	assert.Equal(t, "derived", string(m2.Payload()))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m2.Properties())
	assert.NotEqual(t, m1.ID(), m2.ID())
}

func TestMessageBuilder_BytesAreCopied(t *testing.T) {
	raw := []byte("abc")
	b := NewMessage().Bytes(raw)
	raw[0] = 'x'

	msg, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(msg.Payload()))
}

func TestMessageBuilder_JSON(t *testing.T) {
	msg, err := NewMessage().JSON(order{ID: 1, Item: "book", Price: 1299}).Build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"item":"book","price":1299}`, string(msg.Payload()))

	got, err := Decode[order](nil, msg)
	require.NoError(t, err)
	assert.Equal(t, order{ID: 1, Item: "book", Price: 1299}, got)
}

func TestMessageBuilder_SerializationError(t *testing.T) {
	b := NewMessage().JSON(make(chan int))

	_, err := b.Build()
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "json", serr.Codec)

	msg, err := b.Text("recovered").Build()
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(msg.Payload()))
}

func TestMessageBuilder_PropertiesMerge(t *testing.T) {
	msg, err := NewMessage().
		Text("x").
		Property("a", "1").
		Properties(map[string]string{"a": "2", "b": "3"}).
		Property("c", "4").
		Build()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "3", "c": "4"}, msg.Properties())

	v, ok := msg.Property("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	_, ok = msg.Property("missing")
	assert.False(t, ok)
}

func TestMessage_PropertiesReturnsCopy(t *testing.T) {
	props := map[string]string{"a": "1"}
	msg, err := NewMessage().Text("x").Properties(props).Build()
	require.NoError(t, err)

	props["a"] = "changed"
	msg.Properties()["a"] = "changed"

	v, _ := msg.Property("a")
	assert.Equal(t, "1", v)
}

func TestMessageBuilder_Timestamp(t *testing.T) {
	msg, err := NewMessage().Text("x").Build()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), msg.Timestamp(), time.Second)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err = NewMessage().Text("x").Timestamp(ts).Build()
	require.NoError(t, err)
	assert.True(t, ts.Equal(msg.Timestamp()))
}
