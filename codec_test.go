package xpub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperCodec stores strings upper-cased, enough to tell it apart from JSON.
type upperCodec struct{}

func (upperCodec) Marshal(v any) ([]byte, error) {
	return []byte(strings.ToUpper(v.(string))), nil
}

func (upperCodec) Unmarshal(b []byte, v any) error {
	*(v.(*string)) = strings.ToLower(string(b))
	return nil
}

func (upperCodec) Name() string { return "upper" }

func TestCodecRegistry(t *testing.T) {
	c, err := NewCodec("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = NewCodec("missing")
	assert.Error(t, err)

	assert.Error(t, RegisterCodec("", func() Codec { return upperCodec{} }))
	assert.Error(t, RegisterCodec("upper", nil))
	require.NoError(t, RegisterCodec("upper", func() Codec { return upperCodec{} }))

	c, err = NewCodec("upper")
	require.NoError(t, err)
	assert.Equal(t, "upper", c.Name())
}

func TestMessageBuilder_EncodeWithCodec(t *testing.T) {
	msg, err := NewMessage().WithCodec(upperCodec{}).Encode("hello").Build()
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(msg.Payload()))

	got, err := Decode[string](upperCodec{}, msg)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestDecode_Error(t *testing.T) {
	msg, err := NewMessage().Text("not json").Build()
	require.NoError(t, err)
	_, err = Decode[order](JSONCodec{}, msg)
	assert.Error(t, err)
}

func TestHandle_CodecInstance(t *testing.T) {
	s := newStub("orders")
	h, err := NewPublisherBuilder().
		WithConnectionFactory(s.factory).
		WithCodecInstance(upperCodec{}).
		WithLogger(quietLogger()).
		Build(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Produce().Encode("shout").Enqueue())
	closeWithin(t, h, 5*time.Second)
	assert.Equal(t, []string{"SHOUT"}, s.Delivered())
}
