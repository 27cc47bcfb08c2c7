package xpub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_NoFactory(t *testing.T) {
	_, err := NewPublisherBuilder().Build(context.Background())
	assert.ErrorIs(t, err, ErrNoConnectionFactory)
}

func TestBuild_UnknownBackend(t *testing.T) {
	_, err := NewPublisherBuilder().WithBackend("no-such-backend", nil).Build(context.Background())
	var unknown ErrUnknownBackend
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, err.Error(), "no-such-backend")
}

func TestBuild_UnknownCodec(t *testing.T) {
	s := newStub("orders")
	_, err := NewPublisherBuilder().
		WithConnectionFactory(s.factory).
		WithCodec("no-such-codec").
		Build(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.Timeline(), "factory called despite invalid codec")
}

func TestBuild_FirstConnectionFailure(t *testing.T) {
	s := newStub("orders")
	s.failNextConnects(1)

	_, err := Spawn(context.Background(), s.factory, WithTopic("orders"), WithLogger(quietLogger()))
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "orders", cerr.Topic)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, []string{"connect!"}, s.Timeline())
}

func TestBuild_ConnectTimeout(t *testing.T) {
	hangs := func(ctx context.Context) (Connection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := Spawn(context.Background(), hangs,
		WithLogger(quietLogger()),
		WithConnectTimeout(20*time.Millisecond),
	)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuild_TopicFromConnection(t *testing.T) {
	h := spawnStub(t, newStub("from-conn"))
	defer closeWithin(t, h, 5*time.Second)
	assert.Equal(t, "from-conn", h.Topic())

	h2 := spawnStub(t, newStub("from-conn"), WithTopic("explicit"))
	defer closeWithin(t, h2, 5*time.Second)
	assert.Equal(t, "explicit", h2.Topic())
}

func TestBuild_ContextReachesFactory(t *testing.T) {
	s := newStub("orders")
	var producer, topic string
	var hasLogger bool
	factory := func(ctx context.Context) (Connection, error) {
		producer, _ = ProducerFromContext(ctx)
		topic, _ = TopicFromContext(ctx)
		_, hasLogger = LoggerFromContext(ctx)
		_, _ = ClockFromContext(ctx)
		return s.factory(ctx)
	}

	h, err := Spawn(context.Background(), factory,
		WithTopic("orders"),
		WithProducerName("billing"),
		WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	defer closeWithin(t, h, 5*time.Second)

	assert.Equal(t, "billing", producer)
	assert.Equal(t, "billing", h.Producer())
	assert.Equal(t, "orders", topic)
	assert.True(t, hasLogger)
}

func TestBuild_DefaultProducerName(t *testing.T) {
	h, err := Spawn(context.Background(), newStub("orders").factory, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer closeWithin(t, h, 5*time.Second)
	assert.Contains(t, h.Producer(), "xpub-")
}

func TestBuild_BuildContextDoesNotStopDispatcher(t *testing.T) {
	s := newStub("orders")
	ctx, cancel := context.WithCancel(context.Background())
	h, err := Spawn(ctx, s.factory, WithLogger(quietLogger()))
	require.NoError(t, err)
	cancel()

	require.NoError(t, h.Produce().Text("after-cancel").Send(context.Background()))
	closeWithin(t, h, 5*time.Second)
	assert.Equal(t, []string{"after-cancel"}, s.Delivered())
}

func TestBuild_BackendFromConfig(t *testing.T) {
	s := newStub("ignored")
	var gotTopic string
	var gotCfg map[string]any
	require.NoError(t, RegisterBackend("stub-config", func(topic string, cfg map[string]any) (ConnectionFactory, error) {
		gotTopic, gotCfg = topic, cfg
		return s.factory, nil
	}))
	assert.Contains(t, Backends(), "stub-config")

	cfg := Defaults()
	cfg.Topic = "cfg-topic"
	cfg.ProducerName = "cfg-producer"
	cfg.QueueCapacity = 7
	cfg.Backend = "stub-config"
	cfg.BackendConfig = map[string]any{"k": "v"}

	h, err := NewPublisherBuilder().WithConfig(cfg).WithLogger(quietLogger()).Build(context.Background())
	require.NoError(t, err)
	defer closeWithin(t, h, 5*time.Second)

	assert.Equal(t, "cfg-topic", gotTopic)
	assert.Equal(t, map[string]any{"k": "v"}, gotCfg)
	assert.Equal(t, "cfg-topic", h.Topic())
	assert.Equal(t, "cfg-producer", h.Producer())
	assert.Equal(t, 7, h.Stats().QueueCapacity)
}

func TestBuild_BackendFactoryError(t *testing.T) {
	boom := errors.New("bad backend config")
	require.NoError(t, RegisterBackend("stub-broken", func(string, map[string]any) (ConnectionFactory, error) {
		return nil, boom
	}))
	_, err := NewPublisherBuilder().WithBackend("stub-broken", nil).Build(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRegisterBackend_Validation(t *testing.T) {
	assert.Error(t, RegisterBackend("", func(string, map[string]any) (ConnectionFactory, error) { return nil, nil }))
	assert.Error(t, RegisterBackend("nil-factory", nil))
}

func TestBuilder_IgnoresNonPositiveTunables(t *testing.T) {
	pb := NewPublisherBuilder().
		WithQueueCapacity(0).
		WithSendTimeout(-1).
		WithRetryDelay(0).
		WithConnectTimeout(-time.Second)

	assert.Equal(t, DefaultQueueCapacity, pb.queueCapacity)
	assert.Equal(t, DefaultSendTimeout, pb.sendTimeout)
	assert.Equal(t, DefaultRetryDelay, pb.retryDelay)
	assert.Equal(t, DefaultConnectTimeout, pb.connectTimeout)
}
