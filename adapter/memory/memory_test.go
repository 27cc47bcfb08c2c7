package memory

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xpub"
)

func quietLogger() *xlog.Logger {
	return zerolog.Use(zerolog.Config{MinLevel: xlog.LevelDebug, Writer: io.Discard})
}

func testOpts(extra ...xpub.Option) []xpub.Option {
	return append([]xpub.Option{
		xpub.WithLogger(quietLogger()),
		xpub.WithRetryDelay(5 * time.Millisecond),
	}, extra...)
}

func payloads(msgs []*xpub.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Payload()))
	}
	return out
}

func TestConfigFromMap(t *testing.T) {
	b := NewBroker(Config{})
	cfg := ConfigFromMap(map[string]any{
		"buffer_size": 16,
		"send_delay":  "5ms",
		"broker":      b,
	})
	assert.Equal(t, 16, cfg.BufferSize)
	assert.Equal(t, 5*time.Millisecond, cfg.SendDelay)
	assert.Same(t, b, cfg.Broker)

	assert.Equal(t, 1024, ConfigFromMap(nil).BufferSize)
	assert.Equal(t, cfg, ConfigFromMap(cfg.toMap()))
}

func TestBackendRegistered(t *testing.T) {
	assert.Contains(t, xpub.Backends(), BackendName)
}

func TestUse_PublishesInOrder(t *testing.T) {
	b := NewBroker(Config{})
	ctx := context.Background()

	h, err := Use(ctx, "orders", Config{Broker: b}, testOpts()...)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		want = append(want, strconv.Itoa(i))
		require.NoError(t, h.Produce().Text(strconv.Itoa(i)).Property("seq", strconv.Itoa(i)).Send(ctx))
	}
	require.NoError(t, h.Close(ctx))

	msgs := b.Messages("orders")
	assert.Equal(t, want, payloads(msgs))
	v, ok := msgs[3].Property("seq")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, uint64(20), b.Stats().Published)
}

func TestUse_DefaultBrokerThroughRegistry(t *testing.T) {
	ctx := context.Background()
	topic := "registry-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	h, err := xpub.NewPublisherBuilder().
		WithBackend(BackendName, nil).
		WithTopic(topic).
		WithLogger(quietLogger()).
		Build(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Produce().Text("hi").Send(ctx))
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, []string{"hi"}, payloads(Default().Messages(topic)))
}

func TestUse_UnavailableAtStartup(t *testing.T) {
	b := NewBroker(Config{})
	b.SetAvailable(false)

	_, err := Use(context.Background(), "orders", Config{Broker: b}, testOpts()...)
	var cerr *xpub.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUse_RecoversFromOutage(t *testing.T) {
	b := NewBroker(Config{})
	ctx := context.Background()
	h, err := Use(ctx, "orders", Config{Broker: b}, testOpts()...)
	require.NoError(t, err)

	b.SetAvailable(false)
	require.NoError(t, h.Produce().Text("during-outage").Enqueue())
	require.Eventually(t, func() bool { return h.Stats().PendingRetry }, time.Second, time.Millisecond)

	b.SetAvailable(true)
	require.NoError(t, h.Produce().Text("after").Enqueue())
	require.NoError(t, h.Close(ctx))

	assert.Equal(t, []string{"during-outage", "after"}, payloads(b.Messages("orders")))
	stats := b.Stats()
	assert.GreaterOrEqual(t, stats.SendFailures, uint64(1))
	assert.GreaterOrEqual(t, stats.Connects, uint64(2))
}

func TestUse_InjectedFailures(t *testing.T) {
	b := NewBroker(Config{})
	ctx := context.Background()
	h, err := Use(ctx, "orders", Config{Broker: b}, testOpts()...)
	require.NoError(t, err)

	b.FailSends(2)
	b.FailConnects(2)
	require.NoError(t, h.Produce().Text("x").Send(ctx))
	require.NoError(t, h.Close(ctx))

	assert.Equal(t, []string{"x"}, payloads(b.Messages("orders")))
	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.SendFailures)
	assert.Equal(t, uint64(2), stats.ConnectFailures)
	assert.Equal(t, uint64(2), b.Stats().ConnectFailures)
}

func TestUse_SendDelayTriggersTimeout(t *testing.T) {
	b := NewBroker(Config{SendDelay: 200 * time.Millisecond})
	ctx := context.Background()
	h, err := Use(ctx, "orders", Config{Broker: b}, testOpts(xpub.WithSendTimeout(20*time.Millisecond))...)
	require.NoError(t, err)

	require.NoError(t, h.Produce().Text("slow").Enqueue())
	require.Eventually(t, func() bool { return h.Stats().SendFailures >= 1 }, time.Second, time.Millisecond)

	b.SetSendDelay(0)
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, []string{"slow"}, payloads(b.Messages("orders")))
	assert.GreaterOrEqual(t, h.Stats().Reconnects, uint64(1))
}

func TestSubscribe(t *testing.T) {
	b := NewBroker(Config{BufferSize: 1})
	ch, unsubscribe := b.Subscribe("orders")

	conn, err := b.Factory("orders")(context.Background())
	require.NoError(t, err)

	msg, err := xpub.NewMessage().Text("a").Build()
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), msg))
	require.NoError(t, conn.Send(context.Background(), msg))

	got := <-ch
	assert.Equal(t, "a", string(got.Payload()))
	assert.Equal(t, uint64(1), b.Stats().Dropped)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestConnection_Closed(t *testing.T) {
	b := NewBroker(Config{})
	conn, err := b.Factory("orders")(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close(context.Background()))

	msg, err := xpub.NewMessage().Text("a").Build()
	require.NoError(t, err)
	assert.True(t, errors.Is(conn.Send(context.Background(), msg), ErrConnectionClosed))
}

func TestReset(t *testing.T) {
	b := NewBroker(Config{})
	ch, unsubscribe := b.Subscribe("orders")
	b.FailSends(5)
	b.SetAvailable(false)

	b.Reset()
	_, open := <-ch
	assert.False(t, open)
	require.NotPanics(t, unsubscribe)

	conn, err := b.Factory("orders")(context.Background())
	require.NoError(t, err)
	msg, err := xpub.NewMessage().Text("a").Build()
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), msg))
	assert.Len(t, b.Messages("orders"), 1)
}
